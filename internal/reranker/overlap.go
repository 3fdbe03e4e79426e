package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Weights for the blended score.
const (
	similarityWeight = 0.5
	overlapWeight    = 0.5
)

// OverlapReranker blends similarity with the fraction of query terms that
// appear in each candidate.
type OverlapReranker struct{}

// NewOverlapReranker creates an OverlapReranker.
func NewOverlapReranker() *OverlapReranker {
	return &OverlapReranker{}
}

// Rerank implements Reranker. A query without usable terms falls back to
// plain score ordering.
func (r *OverlapReranker) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return NewScoreReranker().Rerank(ctx, query, docs, topN)
	}

	scored := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		overlap := termOverlap(queryTerms, tokenize(d.Content))
		scored[i] = ScoredDocument{
			Document:      d,
			RerankerScore: similarityWeight*d.Score + overlapWeight*overlap,
			OriginalRank:  i,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})
	return scored[:limit(topN, len(scored))], nil
}

// Close is a no-op.
func (r *OverlapReranker) Close() error { return nil }

// tokenize lowercases text and splits on anything that is not a letter or
// digit, dropping stopwords and tokens shorter than three runes. CJK runs
// are kept whole.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] || len([]rune(f)) < 3 && !hasHan(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// termOverlap is the share of distinct query terms found in the document.
func termOverlap(queryTerms, docTerms []string) float64 {
	docSet := make(map[string]struct{}, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = struct{}{}
	}
	unique := make(map[string]struct{}, len(queryTerms))
	matched := 0
	for _, t := range queryTerms {
		if _, seen := unique[t]; seen {
			continue
		}
		unique[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(unique))
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
}
