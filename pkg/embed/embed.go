// Package embed defines the external embedding collaborator interface the
// memory layer depends on. Embedding production itself is an external
// model call; this package only specifies the call shape.
package embed

import "context"

// Dimension is the expected output size when a real embedder is wired;
// the deterministic fallback in this package also produces this size so
// callers never need to special-case it.
const Dimension = 32

// Embedder produces an L2-normalized vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Func adapts a plain function to the Embedder interface.
type Func func(ctx context.Context, text string) ([]float64, error)

func (f Func) Embed(ctx context.Context, text string) ([]float64, error) { return f(ctx, text) }

// Semantic is an optional capability an Embedder implements to report
// whether its vectors carry genuine semantic signal. An Embedder that
// doesn't implement it is assumed semantic, since that's the case for any
// real model-backed collaborator; Fallback is the one implementation that
// opts out.
type Semantic interface {
	SemanticEmbedding() bool
}

// IsSemantic reports whether e's vectors are suitable for cosine-similarity
// comparison, vs. a non-semantic stand-in whose vectors are report-only.
func IsSemantic(e Embedder) bool {
	s, ok := e.(Semantic)
	return !ok || s.SemanticEmbedding()
}
