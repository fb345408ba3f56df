package embed

import (
	"context"
	"crypto/sha256"
	"math"
)

// Fallback is the deterministic hash-based pseudo-vector embedder used
// when no real embedding collaborator is configured. It is never to be used
// for genuine semantic retrieval — callers must treat its output as
// report-only.
type Fallback struct{}

// SemanticEmbedding reports false: Fallback's vectors are a deterministic
// hash of the input text, not a learned representation, so they carry no
// semantic signal and must not drive cosine-similarity ranking.
func (Fallback) SemanticEmbedding() bool { return false }

func (Fallback) Embed(_ context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, Dimension)
	for i := 0; i < Dimension; i++ {
		vec[i] = float64(sum[i%len(sum)]) / 255.0
	}
	return normalize(vec), nil
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
