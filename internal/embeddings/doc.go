// Package embeddings turns text into vectors.
//
// Two intents are distinguished: EmbedDocuments for text being indexed and
// EmbedQuery for text being searched with. Some providers (Gemini) embed the
// two differently; others treat them the same.
//
// NewProvider selects an implementation by name:
//
//   - "gemini": Google Generative AI embedding models
//   - "openai": any OpenAI-compatible /embeddings endpoint (OpenAI, TEI, vLLM)
//   - "none":   Unconfigured, every call fails with ErrUnavailable
//
// Every provider returned by NewProvider records OpenTelemetry metrics and
// verifies that it returned one non-empty vector per input.
package embeddings
