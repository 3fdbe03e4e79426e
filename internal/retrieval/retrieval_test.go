package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// fixedEmbedder returns the same query vector for every query.
type fixedEmbedder struct {
	query []float32
	err   error
	calls int
}

func (f *fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.query
	}
	return out, f.err
}

func (f *fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	return f.query, f.err
}

// unitAt returns a 2-d unit vector whose cosine with [1, 0] is s.
func unitAt(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

func seed(t *testing.T, tenant string, scores ...float64) *vectorstore.MemoryIndex {
	t.Helper()
	idx, err := vectorstore.NewMemoryIndex(vectorstore.MemoryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	chunks := make([]vectorstore.Chunk, len(scores))
	for i, s := range scores {
		chunks[i] = vectorstore.Chunk{
			ID:         vectorstore.ChunkID("doc", i),
			TenantID:   tenant,
			DocumentID: "doc",
			ChunkIndex: i,
			Text:       "chunk text",
			Vector:     unitAt(s),
		}
	}
	require.NoError(t, idx.Insert(context.Background(), tenant, chunks))
	return idx
}

func newRetriever(t *testing.T, e embeddings.Embedder, idx vectorstore.Index) *Retriever {
	t.Helper()
	r, err := New(e, idx, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestRetrieve_TopNOfTopK(t *testing.T) {
	idx := seed(t, "acme", 0.91, 0.40, 0.85)
	r := newRetriever(t, &fixedEmbedder{query: []float32{1, 0}}, idx)

	hits, err := r.Retrieve(context.Background(), "acme", "vacation policy", 3, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.85, hits[1].Score, 1e-6)
	assert.Equal(t, "doc_0", hits[0].ChunkID)
	assert.Equal(t, "doc_2", hits[1].ChunkID)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 2, hits[1].Rank)
}

func TestRetrieve_ClampsTopNToTopK(t *testing.T) {
	idx := seed(t, "acme", 0.9, 0.8, 0.7, 0.6)
	r := newRetriever(t, &fixedEmbedder{query: []float32{1, 0}}, idx)

	hits, err := r.Retrieve(context.Background(), "acme", "q", 2, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestRetrieve_Defaults(t *testing.T) {
	idx := seed(t, "acme", 0.9, 0.8, 0.7, 0.6, 0.5, 0.4)
	r := newRetriever(t, &fixedEmbedder{query: []float32{1, 0}}, idx)

	hits, err := r.Retrieve(context.Background(), "acme", "q", 0, 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultTopN)
}

func TestRetrieve_UnknownTenantIsEmpty(t *testing.T) {
	idx := seed(t, "acme", 0.9)
	r := newRetriever(t, &fixedEmbedder{query: []float32{1, 0}}, idx)

	hits, err := r.Retrieve(context.Background(), "other", "q", 5, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NotNil(t, hits)
}

func TestRetrieve_Errors(t *testing.T) {
	idx := seed(t, "acme", 0.9)
	tests := []struct {
		name      string
		embedder  *fixedEmbedder
		query     string
		wantKind  error
		wantStage ragerr.Stage
		retryable bool
	}{
		{
			name:      "empty query",
			embedder:  &fixedEmbedder{query: []float32{1, 0}},
			query:     "  ",
			wantKind:  ragerr.ErrInvalidArgument,
			wantStage: ragerr.StageRetrieval,
		},
		{
			name:      "provider error",
			embedder:  &fixedEmbedder{err: errors.New("connection reset")},
			query:     "q",
			wantKind:  ragerr.ErrEmbeddingFailed,
			wantStage: ragerr.StageEmbedding,
			retryable: true,
		},
		{
			name:      "unconfigured",
			embedder:  &fixedEmbedder{err: embeddings.ErrUnavailable},
			query:     "q",
			wantKind:  ragerr.ErrEmbeddingUnavailable,
			wantStage: ragerr.StageEmbedding,
		},
		{
			name:      "dimension mismatch",
			embedder:  &fixedEmbedder{query: []float32{1, 0, 0}},
			query:     "q",
			wantKind:  ragerr.ErrInvalidArgument,
			wantStage: ragerr.StageRetrieval,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRetriever(t, tt.embedder, idx)
			_, err := r.Retrieve(context.Background(), "acme", tt.query, 5, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantStage, ragerr.StageOf(err))
			assert.Equal(t, tt.retryable, ragerr.IsRetryable(err))
		})
	}
}

func TestRetrieve_OverlapReranker(t *testing.T) {
	idx, err := vectorstore.NewMemoryIndex(vectorstore.MemoryConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(context.Background(), "acme", []vectorstore.Chunk{
		{ID: "d_0", DocumentID: "d", Text: "office parking rules", Vector: unitAt(0.9)},
		{ID: "d_1", DocumentID: "d", ChunkIndex: 1, Text: "vacation policy allows twenty days", Vector: unitAt(0.8)},
	}))

	r, err := New(&fixedEmbedder{query: []float32{1, 0}}, idx, reranker.NewOverlapReranker(), nil)
	require.NoError(t, err)

	hits, err := r.Retrieve(context.Background(), "acme", "vacation policy", 2, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d_1", hits[0].ChunkID)
	assert.Equal(t, 1, hits[0].Rank)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, seed(t, "a", 0.5), nil, nil)
	assert.Error(t, err)
	_, err = New(&fixedEmbedder{}, nil, nil, nil)
	assert.Error(t, err)
}
