package embeddings

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini defaults.
const (
	DefaultGeminiModel     = "embedding-001"
	DefaultGeminiDimension = 768
	geminiMaxBatch         = 100
)

// GeminiConfig configures GeminiProvider.
type GeminiConfig struct {
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
}

// GeminiProvider embeds with Google Generative AI embedding models. Documents
// and queries use the retrieval-document and retrieval-query task types.
type GeminiProvider struct {
	client    *genai.Client
	docs      *genai.EmbeddingModel
	queries   *genai.EmbeddingModel
	dimension int
	batchSize int
}

// NewGeminiProvider creates a Gemini embedding provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultGeminiDimension
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > geminiMaxBatch {
		cfg.BatchSize = geminiMaxBatch
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	docs := client.EmbeddingModel(cfg.Model)
	docs.TaskType = genai.TaskTypeRetrievalDocument
	queries := client.EmbeddingModel(cfg.Model)
	queries.TaskType = genai.TaskTypeRetrievalQuery

	return &GeminiProvider{
		client:    client,
		docs:      docs,
		queries:   queries,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

// EmbedDocuments implements Embedder.
func (g *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, part := range batches(texts, g.batchSize) {
		b := g.docs.NewBatch()
		for _, t := range part {
			b.AddContent(genai.Text(t))
		}
		resp, err := g.docs.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
		}
		for _, e := range resp.Embeddings {
			if e == nil {
				vectors = append(vectors, nil)
				continue
			}
			vectors = append(vectors, e.Values)
		}
	}
	return vectors, nil
}

// EmbedQuery implements Embedder.
func (g *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.queries.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmbeddingFailed)
	}
	return resp.Embedding.Values, nil
}

// Dimension implements Provider.
func (g *GeminiProvider) Dimension() int { return g.dimension }

// Close implements Provider.
func (g *GeminiProvider) Close() error { return g.client.Close() }
