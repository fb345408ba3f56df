package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory/persist"
)

func TestStore_StoreAndRetrieve(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Store(ctx, "use postgres for relational data", TypeLongTerm, []string{"db"})
	require.NoError(t, err)
	_, err = s.Store(ctx, "unrelated cooking recipe", TypeLongTerm, nil)
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "postgres relational data", nil, 5, 0.01)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Content, "postgres")
}

func TestStore_DefaultEmbedderDoesNotDriveRankingByHashCoincidence(t *testing.T) {
	s := New() // default Store uses embed.Fallback{}, a non-semantic stand-in
	ctx := context.Background()

	postgres, err := s.Store(ctx, "use postgres for relational data", TypeLongTerm, []string{"db"})
	require.NoError(t, err)
	cooking, err := s.Store(ctx, "unrelated cooking recipe", TypeLongTerm, nil)
	require.NoError(t, err)

	// Force cooking's fallback vector to be (artificially) closer to the
	// query under cosine than postgres's, the exact failure mode a
	// semantic-blind dispatch would be fooled by.
	queryEmb, err := s.embedder.Embed(ctx, "postgres relational data")
	require.NoError(t, err)
	cooking.Embedding = append([]float64(nil), queryEmb...)
	postgres.Embedding = []float64{0, 0, 1, 0}

	results, err := s.Retrieve(ctx, "postgres relational data", nil, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Content, "postgres",
		"ranking must come from term overlap, not the fallback embedder's hash-coincidental cosine score")
}

func TestStore_DecayMonotone(t *testing.T) {
	s := New()
	item, err := s.Store(context.Background(), "some lesson", TypeEpisodic, nil)
	require.NoError(t, err)
	item.LastAccessed = time.Now().Add(-10 * 24 * time.Hour)
	before := item.Relevance

	affected := s.ApplyDecay(0.1)
	require.Equal(t, 1, affected)
	require.LessOrEqual(t, item.Relevance, before)
}

func TestStore_Prune(t *testing.T) {
	s := New()
	item, err := s.Store(context.Background(), "low value", TypeLongTerm, nil)
	require.NoError(t, err)
	item.Relevance = 0.1

	removed := s.Prune(DefaultPruneThreshold)
	require.Equal(t, 1, removed)
	_, ok := s.Get(item.ID)
	require.False(t, ok)
}

func TestStore_WithBackendSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	backend, err := persist.NewSQLite(context.Background(), dbPath)
	require.NoError(t, err)

	s := New(WithBackend(backend))
	item, err := s.Store(context.Background(), "lesson from a failed deploy", TypeEpisodic, []string{"reflection"})
	require.NoError(t, err)
	backend.Close()

	reopened, err := persist.NewSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	restored := New(WithBackend(reopened))
	got, ok := restored.Get(item.ID)
	require.True(t, ok)
	require.Equal(t, item.Content, got.Content)
}

func TestPatternRegistry_FindSimilarPatterns(t *testing.T) {
	r := NewPatternRegistry()
	r.Register(&Pattern{
		ID:        "p1",
		Category:  PatternErrorHandling,
		Problem:   "retry transient network errors",
		Solution:  "exponential backoff with jitter",
		Languages:  []string{"go"},
		Frameworks: []string{"gin"},
		Successes:  9,
		Failures:  1,
	})

	matches := r.FindSimilarPatterns(TaskQuery{
		Description: "retry transient network errors with backoff",
		Language:    "go",
		Framework:   "gin",
	}, MatchFilters{})
	require.NotEmpty(t, matches)
	require.Equal(t, "p1", matches[0].ID)
}
