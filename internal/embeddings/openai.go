package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible API, e.g. http://localhost:8080/v1.
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
}

// Validate checks the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider embeds through any OpenAI-compatible endpoint via
// langchaingo. Document and query intents are embedded identically.
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	dimension int
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	token := cfg.APIKey
	if token == "" {
		// langchaingo requires a token; local TEI servers ignore it.
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	opts := []lcembeddings.Option{lcembeddings.WithStripNewLines(false)}
	if cfg.BatchSize > 0 {
		opts = append(opts, lcembeddings.WithBatchSize(cfg.BatchSize))
	}
	embedder, err := lcembeddings.NewEmbedder(llm, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = dimensionForModel(cfg.Model)
	}
	return &OpenAIProvider{embedder: embedder, dimension: dim}, nil
}

// EmbedDocuments implements Embedder.
func (o *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery implements Embedder.
func (o *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension implements Provider.
func (o *OpenAIProvider) Dimension() int { return o.dimension }

// Close implements Provider.
func (o *OpenAIProvider) Close() error { return nil }

// dimensionForModel guesses a dimension from common model names.
func dimensionForModel(model string) int {
	switch m := strings.ToLower(model); {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding-3-small"), strings.Contains(m, "ada-002"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}
