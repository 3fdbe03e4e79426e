// Package chat runs grounded conversation turns.
//
// A turn resolves the conversation, retrieves context for the user's
// message, asks the generator for an answer and persists the user and
// assistant messages together. Turns on the same conversation are
// serialized; a failed turn persists nothing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/generation"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Defaults applied by New.
const (
	DefaultHistoryMessages   = 6
	DefaultGenerationTimeout = 60 * time.Second
)

var tracer = otel.Tracer("ragd.chat")

// Retriever finds context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string, topK, topN int) ([]vectorstore.Hit, error)
}

// Config tunes the orchestrator. Zero values select defaults.
type Config struct {
	TopK int
	TopN int
	// HistoryMessages is how many earlier messages go into the prompt.
	// Negative disables history.
	HistoryMessages   int
	GenerationTimeout time.Duration
	MaxTokens         int
}

// Request is one user turn.
type Request struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	TopK           int    `json:"top_k,omitempty"`
	TopN           int    `json:"top_n,omitempty"`
}

// Response is the outcome of a committed turn.
type Response struct {
	ConversationID  string                  `json:"conversation_id"`
	Answer          string                  `json:"answer"`
	Citations       []conversation.Citation `json:"citations"`
	TokenUsage      conversation.TokenUsage `json:"token_usage"`
	Model           string                  `json:"model,omitempty"`
	MessageCount    int                     `json:"message_count"`
	NewConversation bool                    `json:"new_conversation"`
	// Grounded is true when retrieved context reached the model.
	Grounded bool `json:"grounded"`
	// Degraded is true when a provider was unconfigured and the turn
	// completed without it.
	Degraded bool `json:"degraded"`
}

// FragmentFunc receives streamed answer fragments in order. Returning an
// error aborts the turn.
type FragmentFunc func(fragment string) error

// Orchestrator handles chat turns.
type Orchestrator struct {
	retriever Retriever
	generator generation.Generator
	store     conversation.Store
	locks     *conversation.Locker
	cfg       Config
	logger    *logging.Logger
}

// New creates an Orchestrator.
func New(
	cfg Config,
	retriever Retriever,
	generator generation.Generator,
	store conversation.Store,
	logger *logging.Logger,
) (*Orchestrator, error) {
	if retriever == nil || store == nil {
		return nil, errors.New("chat: retriever and store are required")
	}
	if generator == nil {
		generator = generation.Unconfigured{}
	}
	if cfg.HistoryMessages == 0 {
		cfg.HistoryMessages = DefaultHistoryMessages
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		store:     store,
		locks:     conversation.NewLocker(),
		cfg:       cfg,
		logger:    logger.Named("chat"),
	}, nil
}

// Handle runs one turn and returns the complete answer.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	return o.turn(ctx, req, nil)
}

// HandleStream runs one turn, passing answer fragments to onFragment as
// the model produces them. The turn is persisted only after the stream
// ends successfully.
func (o *Orchestrator) HandleStream(ctx context.Context, req Request, onFragment FragmentFunc) (*Response, error) {
	if onFragment == nil {
		onFragment = func(string) error { return nil }
	}
	return o.turn(ctx, req, onFragment)
}

// Conversations lists a tenant's conversations, newest first.
func (o *Orchestrator) Conversations(ctx context.Context, tenantID, userID string, limit int) ([]conversation.Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ragerr.New(ragerr.StagePersistence, "list_conversations",
			fmt.Errorf("%w: tenant id is required", ragerr.ErrInvalidArgument))
	}
	out, err := o.store.List(ctx, tenantID, userID, limit)
	if err != nil {
		return nil, ragerr.New(ragerr.StagePersistence, "list_conversations", err)
	}
	return out, nil
}

// Conversation returns one conversation with its messages.
func (o *Orchestrator) Conversation(ctx context.Context, tenantID, id string) (*conversation.Conversation, error) {
	c, err := o.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, ragerr.New(ragerr.StagePersistence, "get_conversation", err)
	}
	return c, nil
}

func (o *Orchestrator) turn(ctx context.Context, req Request, onFragment FragmentFunc) (resp *Response, err error) {
	const op = "chat"
	message := strings.TrimSpace(req.Message)
	if strings.TrimSpace(req.TenantID) == "" || message == "" {
		return nil, ragerr.New(ragerr.StageRetrieval, op,
			fmt.Errorf("%w: tenant id and message are required", ragerr.ErrInvalidArgument))
	}

	ctx = logging.WithTenantID(ctx, req.TenantID)
	ctx, span := tracer.Start(ctx, "chat.Handle", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.Bool("chat.stream", onFragment != nil),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.ConversationID != "" {
		unlock, lerr := o.locks.Lock(ctx, conversation.Key(req.TenantID, req.ConversationID))
		if lerr != nil {
			return nil, ragerr.New(ragerr.StagePersistence, op, lerr)
		}
		defer unlock()
	}

	conv, isNew, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithConversationID(ctx, conv.ID)
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Bool("conversation.new", isNew),
	)

	history := o.history(conv)
	conv.Append(conversation.Message{Role: conversation.RoleUser, Content: message})

	degraded := false
	hits, err := o.retriever.Retrieve(ctx, req.TenantID, message, o.pick(req.TopK, o.cfg.TopK), o.pick(req.TopN, o.cfg.TopN))
	switch {
	case errors.Is(err, ragerr.ErrEmbeddingUnavailable):
		o.logger.Warn(ctx, "embedding unavailable; answering without context")
		degraded = true
		hits = nil
	case err != nil:
		return nil, ragerr.New(ragerr.StageRetrieval, op, err)
	}
	span.SetAttributes(attribute.Int("chat.hits", len(hits)))

	genReq := generation.Request{
		System:    SystemInstruction,
		Prompt:    BuildPrompt(message, hits, history),
		MaxTokens: o.cfg.MaxTokens,
	}
	generated := true
	answer, err := o.generate(ctx, genReq, onFragment)
	if errors.Is(err, generation.ErrUnconfigured) {
		o.logger.Warn(ctx, "generation unconfigured; returning placeholder answer")
		degraded = true
		generated = false
		answer = &generation.Response{Text: degradedAnswer(message)}
		if onFragment != nil {
			if ferr := onFragment(answer.Text); ferr != nil {
				return nil, ragerr.New(ragerr.StageGeneration, op, ferr)
			}
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	citations := Citations(hits)
	conv.Append(conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: answer.Text,
		Sources: citations,
	})
	usage := conversation.TokenUsage{
		PromptTokens:     answer.Usage.PromptTokens,
		CompletionTokens: answer.Usage.CompletionTokens,
		TotalTokens:      answer.Usage.TotalTokens,
	}
	conv.TokenUsage = conv.TokenUsage.Add(usage)
	conv.LastChunkCount = len(hits)

	if err := o.store.Save(ctx, conv); err != nil {
		return nil, ragerr.New(ragerr.StagePersistence, op, err)
	}

	o.logger.Info(ctx, "chat turn completed",
		zap.Bool("new_conversation", isNew),
		zap.Int("hits", len(hits)),
		zap.Int("messages", conv.MessageCount),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Bool("degraded", degraded),
	)

	if citations == nil {
		citations = []conversation.Citation{}
	}
	return &Response{
		ConversationID:  conv.ID,
		Answer:          answer.Text,
		Citations:       citations,
		TokenUsage:      usage,
		Model:           answer.Model,
		MessageCount:    conv.MessageCount,
		NewConversation: isNew,
		Grounded:        generated && len(hits) > 0,
		Degraded:        degraded,
	}, nil
}

// resolve loads req's conversation, or starts a fresh one when the id is
// absent or unknown for the tenant.
func (o *Orchestrator) resolve(ctx context.Context, req Request) (*conversation.Conversation, bool, error) {
	if req.ConversationID != "" {
		c, err := o.store.Get(ctx, req.TenantID, req.ConversationID)
		switch {
		case err == nil:
			return c, false, nil
		case errors.Is(err, conversation.ErrNotFound):
			o.logger.Info(ctx, "conversation not found; starting a new one",
				zap.String("requested_id", req.ConversationID))
		default:
			return nil, false, ragerr.New(ragerr.StagePersistence, "chat", err)
		}
	}
	return conversation.New(req.TenantID, req.UserID), true, nil
}

func (o *Orchestrator) history(c *conversation.Conversation) []conversation.Message {
	if o.cfg.HistoryMessages < 0 {
		return nil
	}
	return c.Recent(o.cfg.HistoryMessages)
}

func (o *Orchestrator) pick(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	return configured
}

// generate calls the generator under the configured timeout. With a
// non-nil onFragment the streaming mode is used.
func (o *Orchestrator) generate(ctx context.Context, req generation.Request, onFragment FragmentFunc) (*generation.Response, error) {
	const op = "chat"
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	var (
		resp *generation.Response
		err  error
	)
	if onFragment == nil {
		resp, err = o.generator.Generate(genCtx, req)
	} else {
		resp, err = o.stream(genCtx, req, onFragment)
	}
	if errors.Is(err, generation.ErrUnconfigured) {
		return nil, err
	}
	var se *ragerr.StageError
	if errors.As(err, &se) {
		return nil, err
	}
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = generation.ErrEmptyResponse
	}
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", o.cfg.GenerationTimeout, err)
		}
		return nil, ragerr.New(ragerr.StageGeneration, op, fmt.Errorf("%w: %w", ragerr.ErrGenerationFailed, err))
	}
	return resp, nil
}

func (o *Orchestrator) stream(ctx context.Context, req generation.Request, onFragment FragmentFunc) (*generation.Response, error) {
	s, err := o.generator.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var b strings.Builder
	for s.Next() {
		frag := s.Fragment()
		b.WriteString(frag)
		if err := onFragment(frag); err != nil {
			return nil, ragerr.New(ragerr.StageGeneration, "chat", fmt.Errorf("delivering fragment: %w", err))
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	text := b.String()
	return &generation.Response{
		Text:          text,
		Usage:         s.Usage(),
		CitationHints: generation.ParseCitationHints(text),
	}, nil
}
