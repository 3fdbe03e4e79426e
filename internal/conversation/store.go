package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/ragd/internal/ragerr"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 50

// ErrNotFound is returned by Get for an unknown id or a conversation owned
// by another tenant.
var ErrNotFound = ragerr.ErrConversationNotFound

// Store persists conversations.
type Store interface {
	// Get loads a conversation scoped to tenantID.
	Get(ctx context.Context, tenantID, id string) (*Conversation, error)
	// Save inserts or replaces the whole record.
	Save(ctx context.Context, c *Conversation) error
	// List returns summaries for tenantID, optionally filtered by userID,
	// most recently updated first.
	List(ctx context.Context, tenantID, userID string, limit int) ([]Summary, error)
	// Delete removes one conversation. Idempotent.
	Delete(ctx context.Context, tenantID, id string) error
	// DeleteTenant removes every conversation of tenantID.
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation // by id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	if c == nil || c.ID == "" || c.TenantID == "" {
		return fmt.Errorf("%w: conversation id and tenant are required", ragerr.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.convs[c.ID]; ok && existing.TenantID != c.TenantID {
		return fmt.Errorf("%w: conversation %s belongs to another tenant", ragerr.ErrInvalidArgument, c.ID)
	}
	s.convs[c.ID] = c.Clone()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, tenantID, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	out := make([]Summary, 0)
	for _, c := range s.convs {
		if c.TenantID != tenantID || (userID != "" && c.UserID != userID) {
			continue
		}
		out = append(out, c.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok && c.TenantID == tenantID {
		delete(s.convs, id)
	}
	return nil
}

// DeleteTenant implements Store.
func (s *MemoryStore) DeleteTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.convs {
		if c.TenantID == tenantID {
			delete(s.convs, id)
			n++
		}
	}
	return n, nil
}
