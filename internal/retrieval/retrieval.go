// Package retrieval turns a query into ranked chunks from a tenant's index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Defaults used when callers pass a non-positive topK or topN.
const (
	DefaultTopK = 5
	DefaultTopN = 3
)

var tracer = otel.Tracer("ragd.retrieval")

// Retriever embeds queries, searches the index and reranks candidates.
type Retriever struct {
	embedder embeddings.Embedder
	index    vectorstore.Index
	reranker reranker.Reranker
	logger   *zap.Logger
}

// New creates a Retriever. A nil reranker means score ordering.
func New(embedder embeddings.Embedder, index vectorstore.Index, rr reranker.Reranker, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	if rr == nil {
		rr = reranker.NewScoreReranker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, reranker: rr, logger: logger}, nil
}

// Retrieve returns at most topN hits for query from tenantID's index,
// drawn from the topK nearest chunks. topN is clamped to topK and hits are
// re-ranked 1..n. A tenant with no index yields no hits.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, topK, topN int) ([]vectorstore.Hit, error) {
	const op = "retrieve"
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN > topK {
		topN = topK
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("retrieval.top_k", topK),
		attribute.Int("retrieval.top_n", topN),
	)
	fail := func(stage ragerr.Stage, err error) ([]vectorstore.Hit, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ragerr.New(stage, op, err)
	}

	if strings.TrimSpace(query) == "" {
		return fail(ragerr.StageRetrieval, fmt.Errorf("%w: query is empty", ragerr.ErrInvalidArgument))
	}

	start := time.Now()
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if !errors.Is(err, ragerr.ErrEmbeddingUnavailable) && !errors.Is(err, ragerr.ErrEmbeddingFailed) {
			err = fmt.Errorf("%w: %w", ragerr.ErrEmbeddingFailed, err)
		}
		return fail(ragerr.StageEmbedding, err)
	}
	if len(vec) == 0 {
		return fail(ragerr.StageEmbedding, fmt.Errorf("%w: empty query vector", ragerr.ErrEmbeddingFailed))
	}

	hits, err := r.index.Search(ctx, tenantID, vec, topK)
	if err != nil {
		return fail(ragerr.StageRetrieval, fmt.Errorf("searching index: %w", err))
	}
	if len(hits) == 0 {
		span.SetAttributes(attribute.Int("retrieval.hits", 0))
		return []vectorstore.Hit{}, nil
	}

	docs := make([]reranker.Document, len(hits))
	for i, h := range hits {
		docs[i] = reranker.Document{ID: h.ChunkID, Content: h.Text, Score: h.Score}
	}
	ranked, err := r.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return fail(ragerr.StageRetrieval, fmt.Errorf("reranking: %w", err))
	}

	out := make([]vectorstore.Hit, len(ranked))
	for i, d := range ranked {
		out[i] = hits[d.OriginalRank]
		out[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(out)))
	r.logger.Debug("retrieved chunks",
		zap.String("tenant_id", tenantID),
		zap.Int("candidates", len(hits)),
		zap.Int("returned", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
