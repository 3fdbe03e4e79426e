package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
)

const (
	refundPolicy = "Refund policy. Customers may request a refund within thirty days of purchase. " +
		"Refunds are paid back to the original payment method within five business days."
	shippingPolicy = "Shipping policy. Orders ship from our warehouse in Rotterdam. " +
		"Express shipping arrives within two days inside the European Union."
)

func ingestPolicies(t *testing.T, tc *TestCore, tenantID string) {
	t.Helper()
	ctx := context.Background()
	_, err := tc.Ingest(ctx, ingestion.Request{TenantID: tenantID, DocumentID: "refunds", Text: refundPolicy,
		Metadata: map[string]string{"source": "refunds.md"}})
	require.NoError(t, err)
	_, err = tc.Ingest(ctx, ingestion.Request{TenantID: tenantID, DocumentID: "shipping", Text: shippingPolicy})
	require.NoError(t, err)
}

func TestCore_IngestThenChat(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ctx := context.Background()
	ingestPolicies(t, tc, "acme")

	hits, err := tc.Retrieve(ctx, "acme", "how many days for a refund", 5, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "refunds", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].Rank)

	resp, err := tc.HandleChat(ctx, chat.Request{TenantID: "acme", Message: "How many days do I have to request a refund?"})
	require.NoError(t, err)
	assert.True(t, resp.Grounded)
	assert.True(t, strings.HasPrefix(resp.Answer, "According to [Source 1]: Refund policy."))
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, "refunds.md", resp.Citations[0].Source)

	conv, err := tc.Conversation(ctx, "acme", resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)

	list, err := tc.Core.Conversations(ctx, "acme", "", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCore_TenantIsolation(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ctx := context.Background()
	ingestPolicies(t, tc, "acme")

	hits, err := tc.Retrieve(ctx, "globex", "refund", 5, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	resp, err := tc.HandleChat(ctx, chat.Request{TenantID: "globex", Message: "refund?"})
	require.NoError(t, err)
	assert.False(t, resp.Grounded)
	assert.Empty(t, resp.Citations)
}

func TestCore_RejectsInvalidTenant(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ctx := context.Background()

	_, err := tc.Ingest(ctx, ingestion.Request{TenantID: "../etc", DocumentID: "d", Text: refundPolicy})
	assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
	_, err = tc.Retrieve(ctx, "", "q", 0, 0)
	assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
	_, err = tc.HandleChat(ctx, chat.Request{TenantID: "a b", Message: "q"})
	assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
	assert.Zero(t, tc.Generator.Calls())
}

func TestCore_DeleteDocumentAndTenant(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ctx := context.Background()
	ingestPolicies(t, tc, "acme")
	_, err := tc.HandleChat(ctx, chat.Request{TenantID: "acme", Message: "shipping?"})
	require.NoError(t, err)

	removed, err := tc.DeleteDocument(ctx, "acme", "refunds")
	require.NoError(t, err)
	assert.Positive(t, removed)

	hits, err := tc.Retrieve(ctx, "acme", "refund within thirty days", 10, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "refunds", h.DocumentID)
	}

	res, err := tc.DeleteTenantIndex(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conversations)
	assert.Equal(t, 1, res.Documents)

	_, err = tc.TenantStats(ctx, "acme")
	assert.ErrorIs(t, err, ragerr.ErrTenantNotFound)

	require.NoError(t, tc.CreateTenantIndex(ctx, "acme"))
	st, err := tc.TenantStats(ctx, "acme")
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)
}

func TestCore_Documents(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ctx := context.Background()

	docs, err := tc.Documents(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, docs)

	ingestPolicies(t, tc, "acme")
	ingestPolicies(t, tc, "globex")

	docs, err = tc.Documents(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	ids := []string{docs[0].DocumentID, docs[1].DocumentID}
	assert.ElementsMatch(t, []string{"refunds", "shipping"}, ids)
	for _, d := range docs {
		assert.Equal(t, "acme", d.TenantID)
		assert.Equal(t, ingestion.StatusCompleted, d.Status)
	}

	_, err = tc.DeleteDocument(ctx, "acme", "refunds")
	require.NoError(t, err)
	docs, err = tc.Documents(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "shipping", docs[0].DocumentID)

	_, err = tc.Documents(ctx, "a b")
	assert.ErrorIs(t, err, ragerr.ErrInvalidArgument)
}

func TestCore_UnconfiguredEmbedder(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{Embedder: embeddings.Unconfigured{}})
	ctx := context.Background()

	_, err := tc.Ingest(ctx, ingestion.Request{TenantID: "acme", DocumentID: "d", Text: refundPolicy})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrEmbeddingUnavailable)
	assert.False(t, ragerr.IsRetryable(err))

	resp, err := tc.HandleChat(ctx, chat.Request{TenantID: "acme", Message: "refund?"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	reqs []ingestion.FileRequest
	err  error
}

func (r *recordingEnqueuer) EnqueueIngestFile(_ context.Context, req ingestion.FileRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return "task-1", nil
}

func TestCore_IngestFileAsync(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "refunds.txt")
	require.NoError(t, os.WriteFile(path, []byte(refundPolicy), 0o600))
	req := ingestion.FileRequest{TenantID: "acme", DocumentID: "refunds", Path: path}

	t.Run("disabled", func(t *testing.T) {
		tc := NewTestCore(t, TestCoreOptions{})
		assert.False(t, tc.AsyncEnabled())
		_, err := tc.IngestFileAsync(ctx, req)
		assert.ErrorIs(t, err, ErrAsyncDisabled)
	})

	t.Run("enqueued", func(t *testing.T) {
		enq := &recordingEnqueuer{}
		tc := NewTestCore(t, TestCoreOptions{Enqueuer: enq})

		id, err := tc.IngestFileAsync(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "task-1", id)
		require.Len(t, enq.reqs, 1)
		assert.Equal(t, req, enq.reqs[0])

		st, err := tc.DocumentStatus(ctx, "acme", "refunds")
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusUploading, st.Status)
		assert.Equal(t, path, st.Source)

		// What the worker does with the task.
		res, err := tc.IngestFile(ctx, req)
		require.NoError(t, err)
		assert.Positive(t, res.ChunkCount)
		st, err = tc.DocumentStatus(ctx, "acme", "refunds")
		require.NoError(t, err)
		assert.Equal(t, ingestion.StatusCompleted, st.Status)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		tc := NewTestCore(t, TestCoreOptions{Enqueuer: &recordingEnqueuer{err: errors.New("redis down")}})
		_, err := tc.IngestFileAsync(ctx, req)
		require.Error(t, err)
		assert.True(t, ragerr.IsRetryable(err))
	})
}

func TestCore_StreamMatchesAnswer(t *testing.T) {
	tc := NewTestCore(t, TestCoreOptions{})
	ingestPolicies(t, tc, "acme")

	var b strings.Builder
	resp, err := tc.HandleChatStream(context.Background(), chat.Request{TenantID: "acme", Message: "express shipping days"},
		func(f string) error { b.WriteString(f); return nil })
	require.NoError(t, err)
	assert.Equal(t, resp.Answer, b.String())
}

func TestNewCore_RequiresCollaborators(t *testing.T) {
	_, err := NewCore(Options{})
	assert.Error(t, err)
}
