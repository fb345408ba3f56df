package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustTask(t *testing.T, id string, deps ...string) *Task {
	t.Helper()
	task, err := New(id, id, TaskTypeImplement, deps)
	require.NoError(t, err)
	return task
}

func TestGraph_DependencyOrdering(t *testing.T) {
	g := NewGraph()
	t1 := mustTask(t, "T1")
	t2 := mustTask(t, "T2", "T1")
	t3 := mustTask(t, "T3", "T2")
	require.NoError(t, g.Add(t1))
	require.NoError(t, g.Add(t2))
	require.NoError(t, g.Add(t3))

	ready := g.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, "T1", ready[0].ID)

	t1.Complete(&Result{Success: true})
	ready = g.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, "T2", ready[0].ID)

	t2.Complete(&Result{Success: true})
	ready = g.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, "T3", ready[0].ID)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Equal(t, []string{"T1", "T2", "T3"}, order)
}

func TestGraph_CycleRejection(t *testing.T) {
	g := NewGraph()
	t2 := mustTask(t, "T2", "T1")
	require.Error(t, g.Add(t2)) // T1 unknown yet

	t1 := mustTask(t, "T1")
	require.NoError(t, g.Add(t1))

	t2b := mustTask(t, "T2", "T1")
	require.NoError(t, g.Add(t2b))
	require.Equal(t, 2, g.Size())

	// Attempting to add an edge that would close a cycle must fail and
	// leave the graph untouched.
	cyc, err := New("T1b", "T1b", TaskTypeImplement, []string{"T2"})
	require.NoError(t, err)
	cyc.ID = "T1" // simulate re-adding T1 with a dependency on T2
	err = g.Add(cyc)
	require.Error(t, err)
	require.Equal(t, 2, g.Size())
}

func TestTask_SelfDependencyRejected(t *testing.T) {
	_, err := New("T1", "T1", TaskTypeImplement, []string{"T1"})
	require.Error(t, err)
}

func TestGraph_CascadeSkip(t *testing.T) {
	g := NewGraph()
	t1 := mustTask(t, "T1")
	t2 := mustTask(t, "T2", "T1")
	t3 := mustTask(t, "T3", "T2")
	require.NoError(t, g.Add(t1))
	require.NoError(t, g.Add(t2))
	require.NoError(t, g.Add(t3))

	t1.Complete(&Result{Success: false})
	skipped := g.CascadeSkip("T1")
	require.ElementsMatch(t, []string{"T2", "T3"}, skipped)
	require.Equal(t, StatusCancelled, t2.Status())
	require.Equal(t, StatusCancelled, t3.Status())
}
