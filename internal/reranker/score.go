package reranker

import (
	"context"
	"sort"
)

// ScoreReranker orders candidates by similarity score, keeping input order
// among equal scores.
type ScoreReranker struct{}

// NewScoreReranker creates a ScoreReranker.
func NewScoreReranker() *ScoreReranker {
	return &ScoreReranker{}
}

// Rerank implements Reranker.
func (r *ScoreReranker) Rerank(ctx context.Context, _ string, docs []Document, topN int) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		scored[i] = ScoredDocument{Document: d, RerankerScore: d.Score, OriginalRank: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})
	return scored[:limit(topN, len(scored))], nil
}

// Close is a no-op.
func (r *ScoreReranker) Close() error { return nil }
