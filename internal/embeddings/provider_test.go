package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubProvider struct {
	vectors [][]float32
	query   []float32
	err     error
	calls   int
}

func (s *stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	return s.vectors, s.err
}

func (s *stubProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.query, s.err
}

func (s *stubProvider) Dimension() int { return 2 }
func (s *stubProvider) Close() error   { return nil }

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr error
	}{
		{"empty means none", ProviderConfig{}, nil},
		{"none", ProviderConfig{Provider: ProviderNone}, nil},
		{"unknown", ProviderConfig{Provider: "word2vec"}, ErrInvalidConfig},
		{"gemini without key", ProviderConfig{Provider: ProviderGemini}, ErrInvalidConfig},
		{"openai without url", ProviderConfig{Provider: ProviderOpenAI, Model: "m"}, ErrInvalidConfig},
		{"openai without model", ProviderConfig{Provider: ProviderOpenAI, BaseURL: "http://localhost"}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(ctx, tt.cfg, logger)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, IsConfigured(p))
		})
	}
}

func TestUnconfigured(t *testing.T) {
	var u Unconfigured
	_, err := u.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = u.EmbedQuery(context.Background(), "a")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, u.Dimension())
	assert.NoError(t, u.Close())
}

func TestInstrument_ValidatesOutput(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stub    *stubProvider
		texts   []string
		wantErr error
	}{
		{"ok", &stubProvider{vectors: [][]float32{{1, 0}, {0, 1}}}, []string{"a", "b"}, nil},
		{"count mismatch", &stubProvider{vectors: [][]float32{{1, 0}}}, []string{"a", "b"}, ErrEmbeddingFailed},
		{"no vectors", &stubProvider{}, []string{"a"}, ErrEmbeddingFailed},
		{"empty vector", &stubProvider{vectors: [][]float32{{}}}, []string{"a"}, ErrEmbeddingFailed},
		{"provider error", &stubProvider{err: errors.New("boom")}, []string{"a"}, nil},
		{"empty input", &stubProvider{}, nil, ErrEmptyInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Instrument(tt.stub, "test-model", NewMetrics(zaptest.NewLogger(t)))
			vectors, err := p.EmbedDocuments(ctx, tt.texts)
			switch {
			case tt.stub.err != nil:
				assert.ErrorIs(t, err, tt.stub.err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, vectors)
			default:
				require.NoError(t, err)
				assert.Len(t, vectors, len(tt.texts))
			}
		})
	}
}

func TestInstrument_Query(t *testing.T) {
	ctx := context.Background()
	stub := &stubProvider{query: []float32{0.5, 0.5}}
	p := Instrument(stub, "m", nil)

	v, err := p.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
	assert.Equal(t, 2, p.Dimension())

	_, err = p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, stub.calls, "empty query must not reach the provider")

	stub.query = nil
	_, err = p.EmbedQuery(ctx, "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestBatches(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches(texts, 2))
	assert.Equal(t, [][]string{texts}, batches(texts, 0))
	assert.Equal(t, [][]string{texts}, batches(texts, 10))
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 1536, dimensionForModel("text-embedding-3-small"))
	assert.Equal(t, 3072, dimensionForModel("text-embedding-3-large"))
	assert.Equal(t, 768, dimensionForModel("BAAI/bge-base-en-v1.5"))
	assert.Equal(t, 384, dimensionForModel("BAAI/bge-small-en-v1.5"))
}

func TestOpenAIProvider_AgainstCompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(i + 1), 0.5}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embed",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: ProviderOpenAI,
		BaseURL:  srv.URL,
		Model:    "test-embed",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer p.Close()
	assert.True(t, IsConfigured(p))
	assert.Equal(t, 384, p.Dimension())

	vectors, err := p.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
}
