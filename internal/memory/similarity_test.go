package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	v := []float64{0.6, 0.8}
	require.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsScoreZero(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}))
}

func TestJaccardSimilarity_TermOverlap(t *testing.T) {
	require.Equal(t, 0.0, jaccardSimilarity("a b", "c d"))
	require.Greater(t, jaccardSimilarity("use postgres for data", "postgres relational data"), 0.0)
}

func TestSimilarity_NonSemanticIgnoresEmbeddingsEvenWhenPresent(t *testing.T) {
	item := &Item{Content: "postgres relational data", Embedding: []float64{1, 0}}
	queryEmb := []float64{1, 0} // would score 1.0 under cosine

	nonSemantic := similarity("unrelated cooking recipe", queryEmb, item, false)
	require.Equal(t, jaccardSimilarity("unrelated cooking recipe", item.Content), nonSemantic)
	require.Less(t, nonSemantic, 1.0)
}

func TestSimilarity_SemanticUsesCosineWhenBothEmbeddingsPresent(t *testing.T) {
	item := &Item{Content: "unrelated text", Embedding: []float64{1, 0}}
	queryEmb := []float64{1, 0}

	require.Equal(t, 1.0, similarity("query text", queryEmb, item, true))
}

func TestSimilarity_SemanticFallsBackToJaccardWithoutEmbeddings(t *testing.T) {
	item := &Item{Content: "postgres relational data"}
	require.Equal(t, jaccardSimilarity("postgres data", item.Content), similarity("postgres data", nil, item, true))
}
