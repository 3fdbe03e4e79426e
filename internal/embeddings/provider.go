package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ragerr"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates the provider failed or returned unusable
	// vectors. It is the shared ragerr kind.
	ErrEmbeddingFailed = ragerr.ErrEmbeddingFailed

	// ErrUnavailable indicates no provider is configured.
	ErrUnavailable = ragerr.ErrEmbeddingUnavailable
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments embeds texts for indexing, one vector per text, in
	// input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "none", "gemini" or "openai". Empty means "none".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the API endpoint (openai only).
	BaseURL string
	// APIKey authenticates with the provider.
	APIKey string
	// Dimension overrides the model's default dimension.
	Dimension int
	// BatchSize caps texts per upstream request.
	BatchSize int
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderNone, "":
		return Unconfigured{}, nil
	case ProviderGemini:
		p, err = NewGeminiProvider(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
		})
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()))
	return Instrument(p, cfg.Model, NewMetrics(logger)), nil
}

// IsConfigured reports whether e can produce embeddings.
func IsConfigured(e Embedder) bool {
	_, unconfigured := e.(Unconfigured)
	return e != nil && !unconfigured
}

// checkVectors verifies one non-empty vector per input.
func checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at position %d", ErrEmbeddingFailed, i)
		}
	}
	return nil
}

// batches splits texts into consecutive slices of at most size.
func batches(texts []string, size int) [][]string {
	if size <= 0 || len(texts) <= size {
		return [][]string{texts}
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
