// Package rerank defines the optional cross-encoder re-ranking
// collaborator interface used by the memory layer; the scoring model
// itself is an external collaborator plugged in by the caller.
package rerank

import "context"

// Candidate is a (content, score) pair presented for re-scoring.
type Candidate struct {
	ID      string
	Content string
	Score   float64
}

// Reranker re-scores (query, candidate) pairs. When absent, callers must
// preserve the initial ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}
