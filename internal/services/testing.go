package services

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/generation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests: each
// lowercased word is hashed into one of Dim buckets and the vector is
// L2-normalized.
type HashEmbedder struct {
	Dim int
}

// EmbedDocuments implements embeddings.Embedder.
func (h HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedQuery implements embeddings.Embedder.
func (h HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h HashEmbedder) embed(text string) []float32 {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[f.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// EchoGenerator answers by quoting the first source in the prompt.
type EchoGenerator struct {
	mu    sync.Mutex
	calls int
}

// Calls reports how many generations ran.
func (e *EchoGenerator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *EchoGenerator) answer(prompt string) string {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if i := strings.Index(prompt, "[Source 1]\n"); i >= 0 {
		rest := prompt[i+len("[Source 1]\n"):]
		if j := strings.Index(rest, "\n"); j >= 0 {
			rest = rest[:j]
		}
		return "According to [Source 1]: " + rest
	}
	return "I could not find that in the knowledge base."
}

// Generate implements generation.Generator.
func (e *EchoGenerator) Generate(_ context.Context, req generation.Request) (*generation.Response, error) {
	text := e.answer(req.Prompt)
	return &generation.Response{
		Text:          text,
		Model:         "echo",
		Usage:         generation.TokenUsage{PromptTokens: len(req.Prompt), CompletionTokens: len(text), TotalTokens: len(req.Prompt) + len(text)},
		CitationHints: generation.ParseCitationHints(text),
	}, nil
}

// Stream implements generation.Generator, yielding one word per fragment.
func (e *EchoGenerator) Stream(ctx context.Context, req generation.Request) (generation.Stream, error) {
	resp, err := e.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &wordStream{words: strings.SplitAfter(resp.Text, " "), i: -1, usage: resp.Usage}, nil
}

type wordStream struct {
	words []string
	i     int
	usage generation.TokenUsage
}

func (s *wordStream) Next() bool                   { s.i++; return s.i < len(s.words) }
func (s *wordStream) Fragment() string             { return s.words[s.i] }
func (s *wordStream) Err() error                   { return nil }
func (s *wordStream) Usage() generation.TokenUsage { return s.usage }
func (s *wordStream) Close() error                 { return nil }

// TestCore is a Core wired to in-memory stores and test doubles.
type TestCore struct {
	*Core
	Index         *vectorstore.MemoryIndex
	Conversations *conversation.MemoryStore
	Statuses      *ingestion.MemoryStatusStore
	Generator     *EchoGenerator
	Logs          *logging.TestLogger
}

// TestCoreOptions overrides parts of NewTestCore's wiring.
type TestCoreOptions struct {
	Embedder  embeddings.Embedder
	Generator generation.Generator
	Enqueuer  Enqueuer
}

// NewTestCore builds a Core for tests.
func NewTestCore(tb testing.TB, opts TestCoreOptions) *TestCore {
	tb.Helper()
	tc := &TestCore{
		Conversations: conversation.NewMemoryStore(),
		Statuses:      ingestion.NewMemoryStatusStore(),
		Generator:     &EchoGenerator{},
		Logs:          logging.NewTestLogger(),
	}
	idx, err := vectorstore.NewMemoryIndex(vectorstore.MemoryConfig{}, nil)
	if err != nil {
		tb.Fatalf("creating index: %v", err)
	}
	tc.Index = idx

	emb := opts.Embedder
	if emb == nil {
		emb = HashEmbedder{Dim: 64}
	}
	var gen generation.Generator = tc.Generator
	if opts.Generator != nil {
		gen = opts.Generator
	}
	logger := tc.Logs.Logger

	pipeline, err := ingestion.NewPipeline(ingestion.Config{ChunkSize: 200, ChunkOverlap: 20},
		emb, idx, tc.Statuses, extract.NewRegistry(nil), logger)
	if err != nil {
		tb.Fatalf("creating pipeline: %v", err)
	}
	retriever, err := retrieval.New(emb, idx, nil, nil)
	if err != nil {
		tb.Fatalf("creating retriever: %v", err)
	}
	orch, err := chat.New(chat.Config{TopK: 5, TopN: 3}, retriever, gen, tc.Conversations, logger)
	if err != nil {
		tb.Fatalf("creating chat orchestrator: %v", err)
	}
	core, err := NewCore(Options{
		Pipeline:  pipeline,
		Retriever: retriever,
		Chat:      orch,
		Tenants:   tenant.NewManager(idx, tc.Conversations, tc.Statuses, logger),
		Enqueuer:  opts.Enqueuer,
		Logger:    logger,
	})
	if err != nil {
		tb.Fatalf("creating core: %v", err)
	}
	tc.Core = core
	return tc
}
