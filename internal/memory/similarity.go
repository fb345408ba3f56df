package memory

import (
	"math"
	"strings"
)

// cosineSimilarity computes cosine similarity over two equal-length
// embeddings. Returns 0 if either is empty or the norm is zero.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// jaccardSimilarity is the fallback similarity when either side lacks an
// embedding: whitespace-split term-set overlap.
func jaccardSimilarity(a, b string) float64 {
	setA := termSet(a)
	setB := termSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func termSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// similarity computes cosine similarity when both embeddings are present
// and semantic is true, else falls back to Jaccard on raw text. semantic is
// false whenever the store's embedder is a non-semantic stand-in (see
// embed.IsSemantic), so a hash-based fallback vector never drives ranking
// as if it carried real meaning.
func similarity(queryText string, queryEmb []float64, item *Item, semantic bool) float64 {
	if semantic && len(queryEmb) > 0 && len(item.Embedding) > 0 {
		return cosineSimilarity(queryEmb, item.Embedding)
	}
	return jaccardSimilarity(queryText, item.Content)
}
