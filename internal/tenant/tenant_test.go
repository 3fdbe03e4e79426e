package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"acme", true},
		{"Acme-Corp_2.eu", true},
		{"65f1c2a9e4b0a1b2c3d4e5f6", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{"../escape", false},
		{"a/b", false},
		{strings.Repeat("a", maxIDLen), true},
		{strings.Repeat("a", maxIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := Validate(tt.id)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTenantID)
			assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"Bob Smith", "bobsmith"},
		{"dev_user-1", "dev_user1"},
		{"", "local"},
		{"!!!", "local"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
	t.Setenv("USER", "Carol")
	assert.Equal(t, "carol", DefaultID())
}

type seeded struct {
	index    *vectorstore.MemoryIndex
	convs    *conversation.MemoryStore
	statuses *ingestion.MemoryStatusStore
	manager  *Manager
}

func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()
	idx, err := vectorstore.NewMemoryIndex(vectorstore.MemoryConfig{}, nil)
	require.NoError(t, err)
	s := &seeded{index: idx, convs: conversation.NewMemoryStore(), statuses: ingestion.NewMemoryStatusStore()}
	s.manager = NewManager(idx, s.convs, s.statuses, logging.NewNop())

	for _, tenantID := range []string{"acme", "globex"} {
		require.NoError(t, idx.Insert(ctx, tenantID, []vectorstore.Chunk{
			{DocumentID: "d1", ChunkIndex: 0, Text: "x", Vector: []float32{1, 0}},
		}))
		require.NoError(t, s.convs.Save(ctx, conversation.New(tenantID, "")))
		_, err := s.statuses.Begin(ctx, tenantID, "d1")
		require.NoError(t, err)
	}
	return s
}

func TestManager_CreateAndStats(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	_, err := s.manager.Stats(ctx, "initech")
	assert.ErrorIs(t, err, ragerr.ErrTenantNotFound)

	require.NoError(t, s.manager.Create(ctx, "initech"))
	require.NoError(t, s.manager.Create(ctx, "initech"), "idempotent")

	st, err := s.manager.Stats(ctx, "initech")
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)

	err = s.manager.Create(ctx, "bad id")
	assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
}

func TestManager_Delete(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	res, err := s.manager.Delete(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{TenantID: "acme", Conversations: 1, Documents: 1}, res)

	_, err = s.index.Stats(ctx, "acme")
	assert.ErrorIs(t, err, ragerr.ErrTenantNotFound)
	list, err := s.convs.List(ctx, "acme", "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The other tenant is untouched.
	st, err := s.index.Stats(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Chunks)
	_, err = s.statuses.Get(ctx, "globex", "d1")
	assert.NoError(t, err)

	res, err = s.manager.Delete(ctx, "acme")
	require.NoError(t, err, "idempotent")
	assert.Zero(t, res.Conversations)
}

type brokenStore struct{ *conversation.MemoryStore }

func (brokenStore) DeleteTenant(context.Context, string) (int, error) {
	return 0, errors.New("mongo unavailable")
}

func TestManager_DeleteContinuesPastFailures(t *testing.T) {
	s := seed(t)
	m := NewManager(s.index, brokenStore{s.convs}, s.statuses, nil)
	ctx := context.Background()

	res, err := m.Delete(ctx, "acme")
	require.Error(t, err)
	assert.Equal(t, ragerr.StagePersistence, ragerr.StageOf(err))
	assert.Equal(t, 1, res.Documents, "statuses are still removed")

	_, err = s.index.Stats(ctx, "acme")
	assert.ErrorIs(t, err, ragerr.ErrTenantNotFound)
}
