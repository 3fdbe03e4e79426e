package embeddings

import "context"

// Unconfigured is the provider used when no embedding backend is set up.
// Every call fails with ErrUnavailable so callers can branch on it
// explicitly instead of receiving fabricated vectors.
type Unconfigured struct{}

// EmbedDocuments implements Embedder.
func (Unconfigured) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

// EmbedQuery implements Embedder.
func (Unconfigured) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

// Dimension implements Provider.
func (Unconfigured) Dimension() int { return 0 }

// Close implements Provider.
func (Unconfigured) Close() error { return nil }
