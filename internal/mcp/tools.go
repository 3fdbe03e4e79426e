package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
)

// Tool names.
const (
	ToolIngestText        = "ingest_text"
	ToolDeleteDocument    = "delete_document"
	ToolRetrieve          = "retrieve"
	ToolChat              = "chat"
	ToolListConversations = "list_conversations"
	ToolTenantStats       = "tenant_stats"
)

const defaultConversationLimit = 20

// addTool registers h with metrics and failure logging.
func addTool[In, Out any](s *Server, tool *mcp.Tool, h mcp.ToolHandlerFor[In, Out]) {
	name := tool.Name
	mcp.AddTool(s.mcp, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Start(ctx, name)
		res, out, err := h(ctx, req, in)
		done(err)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *Server) registerTools() {
	addTool(s, &mcp.Tool{
		Name:        ToolIngestText,
		Description: "Index a text document into a tenant's knowledge base",
	}, s.ingestText)
	addTool(s, &mcp.Tool{
		Name:        ToolDeleteDocument,
		Description: "Remove a document and all of its chunks from a tenant's knowledge base",
	}, s.deleteDocument)
	addTool(s, &mcp.Tool{
		Name:        ToolRetrieve,
		Description: "Find the chunks of a tenant's documents that best answer a query",
	}, s.retrieve)
	addTool(s, &mcp.Tool{
		Name:        ToolChat,
		Description: "Ask a question answered from a tenant's documents, continuing a conversation when conversation_id is set",
	}, s.chatTurn)
	addTool(s, &mcp.Tool{
		Name:        ToolListConversations,
		Description: "List a tenant's most recent conversations",
	}, s.listConversations)
	addTool(s, &mcp.Tool{
		Name:        ToolTenantStats,
		Description: "Report the size of a tenant's index",
	}, s.tenantStats)
}

type ingestTextInput struct {
	TenantID   string            `json:"tenant_id" jsonschema:"Tenant that owns the document"`
	DocumentID string            `json:"document_id,omitempty" jsonschema:"Document identifier, generated when empty"`
	Text       string            `json:"text" jsonschema:"Document text"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"Metadata stored with every chunk, e.g. source"`
	Replace    bool              `json:"replace,omitempty" jsonschema:"Replace chunks from an earlier ingestion of the same document"`
}

type ingestTextOutput struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Replaced   int    `json:"replaced"`
	Redacted   int    `json:"redacted"`
}

func (s *Server) ingestText(ctx context.Context, _ *mcp.CallToolRequest, in ingestTextInput) (*mcp.CallToolResult, ingestTextOutput, error) {
	if in.DocumentID == "" {
		in.DocumentID = uuid.NewString()
	}
	res, err := s.core.Ingest(ctx, ingestion.Request{
		TenantID:   in.TenantID,
		DocumentID: in.DocumentID,
		Text:       in.Text,
		Metadata:   in.Metadata,
		Replace:    in.Replace,
	})
	if err != nil {
		return nil, ingestTextOutput{}, err
	}
	out := ingestTextOutput{
		TenantID:   res.TenantID,
		DocumentID: res.DocumentID,
		ChunkCount: res.ChunkCount,
		Replaced:   res.Replaced,
		Redacted:   res.Redacted,
	}
	return textResult(fmt.Sprintf("Indexed %s: %d chunks", out.DocumentID, out.ChunkCount)), out, nil
}

type deleteDocumentInput struct {
	TenantID   string `json:"tenant_id" jsonschema:"Tenant that owns the document"`
	DocumentID string `json:"document_id" jsonschema:"Document to remove"`
}

type deleteDocumentOutput struct {
	DocumentID    string `json:"document_id"`
	ChunksRemoved int    `json:"chunks_removed"`
}

func (s *Server) deleteDocument(ctx context.Context, _ *mcp.CallToolRequest, in deleteDocumentInput) (*mcp.CallToolResult, deleteDocumentOutput, error) {
	n, err := s.core.DeleteDocument(ctx, in.TenantID, in.DocumentID)
	if err != nil {
		return nil, deleteDocumentOutput{}, err
	}
	out := deleteDocumentOutput{DocumentID: in.DocumentID, ChunksRemoved: n}
	return textResult(fmt.Sprintf("Deleted %s: %d chunks", in.DocumentID, n)), out, nil
}

type retrieveInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant whose documents are searched"`
	Query    string `json:"query" jsonschema:"Natural language query"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Nearest chunks considered before reranking (default 5)"`
	TopN     int    `json:"top_n,omitempty" jsonschema:"Chunks returned (default 3)"`
}

type chunkResult struct {
	Rank       int               `json:"rank"`
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type retrieveOutput struct {
	Results []chunkResult `json:"results"`
}

func (s *Server) retrieve(ctx context.Context, _ *mcp.CallToolRequest, in retrieveInput) (*mcp.CallToolResult, retrieveOutput, error) {
	hits, err := s.core.Retrieve(ctx, in.TenantID, in.Query, in.TopK, in.TopN)
	if err != nil {
		return nil, retrieveOutput{}, err
	}
	out := retrieveOutput{Results: make([]chunkResult, 0, len(hits))}
	var b strings.Builder
	for _, h := range hits {
		out.Results = append(out.Results, chunkResult{
			Rank:       h.Rank,
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Text:       h.Text,
			Score:      h.Score,
			Metadata:   h.Metadata,
		})
		fmt.Fprintf(&b, "[%d] %s (score %.3f)\n%s\n\n", h.Rank, h.DocumentID, h.Score, h.Text)
	}
	if len(hits) == 0 {
		return textResult("No matching chunks."), out, nil
	}
	return textResult(strings.TrimRight(b.String(), "\n")), out, nil
}

type chatInput struct {
	TenantID       string `json:"tenant_id" jsonschema:"Tenant whose documents ground the answer"`
	Message        string `json:"message" jsonschema:"The user's question"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"Conversation to continue; a new one is started when empty"`
	UserID         string `json:"user_id,omitempty" jsonschema:"User the conversation belongs to"`
	TopK           int    `json:"top_k,omitempty" jsonschema:"Nearest chunks considered before reranking"`
	TopN           int    `json:"top_n,omitempty" jsonschema:"Chunks placed in the prompt"`
}

type citation struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

type chatOutput struct {
	ConversationID  string     `json:"conversation_id"`
	Answer          string     `json:"answer"`
	Citations       []citation `json:"citations"`
	NewConversation bool       `json:"new_conversation"`
	Grounded        bool       `json:"grounded"`
	Degraded        bool       `json:"degraded"`
	TotalTokens     int        `json:"total_tokens"`
}

func (s *Server) chatTurn(ctx context.Context, _ *mcp.CallToolRequest, in chatInput) (*mcp.CallToolResult, chatOutput, error) {
	resp, err := s.core.HandleChat(ctx, chat.Request{
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Message:        in.Message,
		TopK:           in.TopK,
		TopN:           in.TopN,
	})
	if err != nil {
		return nil, chatOutput{}, err
	}
	out := chatOutput{
		ConversationID:  resp.ConversationID,
		Answer:          resp.Answer,
		Citations:       make([]citation, 0, len(resp.Citations)),
		NewConversation: resp.NewConversation,
		Grounded:        resp.Grounded,
		Degraded:        resp.Degraded,
		TotalTokens:     resp.TokenUsage.TotalTokens,
	}
	var b strings.Builder
	b.WriteString(resp.Answer)
	for _, c := range resp.Citations {
		out.Citations = append(out.Citations, citationFrom(c))
		src := c.Source
		if src == "" {
			src = c.DocumentID
		}
		if len(out.Citations) == 1 {
			b.WriteString("\n\nSources:")
		}
		fmt.Fprintf(&b, "\n[%d] %s", c.Index, src)
	}
	return textResult(b.String()), out, nil
}

func citationFrom(c conversation.Citation) citation {
	return citation{
		Index:      c.Index,
		DocumentID: c.DocumentID,
		Source:     c.Source,
		Excerpt:    c.TextExcerpt,
		Score:      c.Score,
	}
}

type listConversationsInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant whose conversations are listed"`
	UserID   string `json:"user_id,omitempty" jsonschema:"Only list this user's conversations"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum conversations returned (default 20)"`
}

type conversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	UserID       string `json:"user_id,omitempty"`
	MessageCount int    `json:"message_count"`
	UpdatedAt    string `json:"updated_at"`
}

type listConversationsOutput struct {
	Conversations []conversationSummary `json:"conversations"`
}

func (s *Server) listConversations(ctx context.Context, _ *mcp.CallToolRequest, in listConversationsInput) (*mcp.CallToolResult, listConversationsOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	convs, err := s.core.Conversations(ctx, in.TenantID, in.UserID, limit)
	if err != nil {
		return nil, listConversationsOutput{}, err
	}
	out := listConversationsOutput{Conversations: make([]conversationSummary, 0, len(convs))}
	var b strings.Builder
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			UserID:       c.UserID,
			MessageCount: c.MessageCount,
			UpdatedAt:    c.UpdatedAt.UTC().Format(time.RFC3339),
		})
		fmt.Fprintf(&b, "%s  %s (%d messages)\n", c.ID, c.Title, c.MessageCount)
	}
	if len(convs) == 0 {
		return textResult("No conversations."), out, nil
	}
	return textResult(strings.TrimRight(b.String(), "\n")), out, nil
}

type tenantStatsInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant to inspect"`
}

type tenantStatsOutput struct {
	TenantID   string `json:"tenant_id"`
	Chunks     int    `json:"chunks"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
	ModifiedAt string `json:"modified_at"`
}

func (s *Server) tenantStats(ctx context.Context, _ *mcp.CallToolRequest, in tenantStatsInput) (*mcp.CallToolResult, tenantStatsOutput, error) {
	st, err := s.core.TenantStats(ctx, in.TenantID)
	if err != nil {
		return nil, tenantStatsOutput{}, err
	}
	out := tenantStatsOutput{
		TenantID:   in.TenantID,
		Chunks:     st.Chunks,
		Documents:  st.Documents,
		Dimension:  st.Dimension,
		ModifiedAt: st.ModifiedAt.UTC().Format(time.RFC3339),
	}
	return textResult(fmt.Sprintf("%s: %d documents, %d chunks, dimension %d",
		in.TenantID, st.Documents, st.Chunks, st.Dimension)), out, nil
}

