package conversation

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is given to conversations created implicitly by a turn.
const DefaultTitle = "New conversation"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Citation points an assistant message at a retrieved chunk.
type Citation struct {
	Index       int     `bson:"index" json:"index"` // 1-based, matches [Source N]
	TextExcerpt string  `bson:"text" json:"text"`
	Source      string  `bson:"source,omitempty" json:"source,omitempty"`
	DocumentID  string  `bson:"document_id" json:"document_id"`
	ChunkID     string  `bson:"chunk_id,omitempty" json:"chunk_id,omitempty"`
	Score       float64 `bson:"score" json:"score"`
}

// Message is one entry of a conversation. Immutable once appended.
type Message struct {
	Role      Role       `bson:"role" json:"role"`
	Content   string     `bson:"content" json:"content"`
	Sources   []Citation `bson:"sources,omitempty" json:"sources,omitempty"`
	Timestamp time.Time  `bson:"timestamp" json:"timestamp"`
}

// TokenUsage accumulates model token counts across turns.
type TokenUsage struct {
	PromptTokens     int `bson:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int `bson:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int `bson:"total_tokens" json:"total_tokens"`
}

// Add returns the element-wise sum.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Conversation is a persisted chat history.
type Conversation struct {
	ID       string    `bson:"_id" json:"id"`
	TenantID string    `bson:"tenant_id" json:"tenant_id"`
	UserID   string    `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Title    string    `bson:"title" json:"title"`
	Messages []Message `bson:"messages" json:"messages"`
	// MessageCount always equals len(Messages).
	MessageCount int `bson:"message_count" json:"message_count"`
	// LastChunkCount is the number of chunks that grounded the latest answer.
	LastChunkCount int        `bson:"last_chunk_count" json:"last_chunk_count"`
	TokenUsage     TokenUsage `bson:"token_usage" json:"token_usage"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
}

// Summary is a conversation without its messages, for listings.
type Summary struct {
	ID           string     `bson:"_id" json:"id"`
	TenantID     string     `bson:"tenant_id" json:"tenant_id"`
	UserID       string     `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Title        string     `bson:"title" json:"title"`
	MessageCount int        `bson:"message_count" json:"message_count"`
	TokenUsage   TokenUsage `bson:"token_usage" json:"token_usage"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

var timeNow = func() time.Time { return time.Now().UTC() }

// New starts an empty conversation with a fresh id.
func New(tenantID, userID string) *Conversation {
	now := timeNow()
	return &Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages in order and updates the derived fields.
func (c *Conversation) Append(msgs ...Message) {
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = timeNow()
		}
		c.Messages = append(c.Messages, m)
		if m.Timestamp.After(c.UpdatedAt) {
			c.UpdatedAt = m.Timestamp
		}
	}
	c.MessageCount = len(c.Messages)
}

// Recent returns up to the last n messages.
func (c *Conversation) Recent(n int) []Message {
	if n <= 0 {
		return nil
	}
	if n > len(c.Messages) {
		n = len(c.Messages)
	}
	return c.Messages[len(c.Messages)-n:]
}

// Summary returns c without messages.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		TenantID:     c.TenantID,
		UserID:       c.UserID,
		Title:        c.Title,
		MessageCount: c.MessageCount,
		TokenUsage:   c.TokenUsage,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Sources != nil {
			m.Sources = append([]Citation(nil), m.Sources...)
		}
		cp.Messages[i] = m
	}
	return &cp
}
