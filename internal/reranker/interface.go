// Package reranker reorders retrieval candidates before they reach the prompt.
package reranker

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownReranker is returned by New for an unrecognized name.
var ErrUnknownReranker = errors.New("unknown reranker")

// Document is one retrieval candidate.
type Document struct {
	ID      string
	Content string
	Score   float64 // similarity from the index
}

// ScoredDocument is a candidate after reranking.
type ScoredDocument struct {
	Document
	RerankerScore float64
	OriginalRank  int // 0-indexed position in the input
}

// Reranker reorders docs for query and keeps at most topN.
// topN <= 0 keeps every document.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topN int) ([]ScoredDocument, error)
	Close() error
}

// New returns the reranker registered under name ("score" or "overlap").
func New(name string) (Reranker, error) {
	switch name {
	case "", "score":
		return NewScoreReranker(), nil
	case "overlap":
		return NewOverlapReranker(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownReranker, name)
}

func limit(topN, n int) int {
	if topN <= 0 || topN > n {
		return n
	}
	return topN
}
