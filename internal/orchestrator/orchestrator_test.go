package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/merge"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/scheduler"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/planner"
)

type fakePlanner struct {
	tasks []planner.ProposedTask
	err   error
}

func (f *fakePlanner) DecomposeGoal(ctx context.Context, goal string, goalContext map[string]string) ([]planner.ProposedTask, error) {
	return f.tasks, f.err
}

func newTestOrchestrator(t *testing.T, pl planner.Planner) (*Orchestrator, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	br := broker.New()
	sched := scheduler.New(reg, br)
	graph := taskgraph.NewGraph()
	merger := merge.New(t.TempDir())
	return New(graph, sched, reg, br, nil, merger, pl, nil), reg
}

func TestDecomposeGoal_BuildsDependencyOrderedGraph(t *testing.T) {
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "design", Name: "design api", Type: string(taskgraph.TaskTypeDesign), Priority: 8},
		{ID: "impl", Name: "implement api", Type: string(taskgraph.TaskTypeWriteCode), Priority: 5, Deps: []string{"design"}},
	}}
	o, _ := newTestOrchestrator(t, pl)

	added, err := o.DecomposeGoal(context.Background(), "build an API", nil)
	require.NoError(t, err)
	require.Len(t, added, 2)

	ready := o.NextReady()
	require.Len(t, ready, 1)
	require.Equal(t, "design", ready[0].ID)
}

func TestDecomposeGoal_SkipsCyclicTaskWithoutMutatingGraph(t *testing.T) {
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "a", Name: "a", Type: string(taskgraph.TaskTypeAnalyze), Deps: []string{"b"}},
		{ID: "b", Name: "b", Type: string(taskgraph.TaskTypeAnalyze), Deps: []string{"a"}},
	}}
	o, _ := newTestOrchestrator(t, pl)

	added, err := o.DecomposeGoal(context.Background(), "cyclic goal", nil)
	require.NoError(t, err)
	// "a" is rejected (depends on unknown "b" at add time), then "b" is
	// rejected too (depends on unknown "a", since a's add failed).
	require.Empty(t, added)
}

func TestMarkComplete_FailureCascadesSkipToDependents(t *testing.T) {
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "design", Name: "design", Type: string(taskgraph.TaskTypeDesign)},
		{ID: "impl", Name: "impl", Type: string(taskgraph.TaskTypeWriteCode), Deps: []string{"design"}},
	}}
	o, reg := newTestOrchestrator(t, pl)
	_, err := reg.Register("architect-1", registry.RoleArchitect, "Architect One")
	require.NoError(t, err)

	_, err = o.DecomposeGoal(context.Background(), "goal", nil)
	require.NoError(t, err)

	designTask, ok := o.graph.Get("design")
	require.True(t, ok)
	designTask.MaxAttempts = 0 // no retries left: failure must cascade immediately

	require.NoError(t, o.MarkComplete("architect-1", "design", &taskgraph.Result{Success: false, Error: "boom"}))

	implTask, ok := o.graph.Get("impl")
	require.True(t, ok)
	require.Equal(t, taskgraph.StatusCancelled, implTask.Status())

	status := o.ProjectStatus()
	require.Equal(t, 1, status.Failed)
}

func TestMarkComplete_RetriesWithReflexionBeforeExhausted(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register("backend-1", registry.RoleBackend, "Backend One")
	require.NoError(t, err)
	br := broker.New()
	sched := scheduler.New(reg, br)
	graph := taskgraph.NewGraph()
	merger := merge.New(t.TempDir())
	mem := memory.New()

	// The worker replies to any reflexion-request it receives.
	br.Subscribe(broker.AgentChannel("backend-1"), func(m broker.Message) {
		if m.Type != broker.TypeReflexionRequest {
			return
		}
		reply := broker.Message{
			Type:          broker.TypeReflexionResponse,
			SenderID:      "backend-1",
			Channel:       broker.ResponseChannel(m.CorrelationID),
			CorrelationID: m.CorrelationID,
			Payload:       map[string]any{"reflection": "retry with smaller diff"},
		}
		_, _ = br.Publish(context.Background(), reply)
	})

	o := New(graph, sched, reg, br, nil, merger, &fakePlanner{}, nil,
		WithMemory(mem), WithReflexionTimeout(2*time.Second))

	task, err := taskgraph.New("t1", "flaky task", taskgraph.TaskTypeWriteCode, nil)
	require.NoError(t, err)
	require.NoError(t, graph.Add(task))
	task.MarkRunning() // attempt 1

	require.NoError(t, o.MarkComplete("backend-1", "t1", &taskgraph.Result{Success: false, Error: "flaky failure"}))

	require.Equal(t, taskgraph.StatusQueued, task.Status(), "task should be requeued, not cascaded, while attempts remain")

	items, err := mem.Retrieve(context.Background(), "flaky task", nil, 5, -1.0)
	require.NoError(t, err)
	require.NotEmpty(t, items, "a reflection should have been stored in episodic memory")
}

func TestDispatchReady_AssignsAllTasksConcurrently(t *testing.T) {
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "a", Name: "a", Type: string(taskgraph.TaskTypeWriteCode)},
		{ID: "b", Name: "b", Type: string(taskgraph.TaskTypeWriteCode)},
		{ID: "c", Name: "c", Type: string(taskgraph.TaskTypeWriteCode)},
	}}
	o, reg := newTestOrchestrator(t, pl)
	for i := 0; i < 3; i++ {
		_, err := reg.Register(fmt.Sprintf("backend-%d", i), registry.RoleBackend, "Backend")
		require.NoError(t, err)
		o.br.Subscribe(broker.AgentChannel(fmt.Sprintf("backend-%d", i)), func(broker.Message) {})
	}

	_, err := o.DecomposeGoal(context.Background(), "goal", nil)
	require.NoError(t, err)

	require.NoError(t, o.DispatchReady(context.Background()))

	for _, id := range []string{"a", "b", "c"} {
		task, ok := o.graph.Get(id)
		require.True(t, ok)
		require.Equal(t, taskgraph.StatusAssigned, task.Status())
	}
}

func initConflictingRepo(t *testing.T) (repoPath, conflictedFile string) {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	file := filepath.Join(dir, "shared.txt")

	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(file, []byte("base\n"), 0o644))
	run("add", "shared.txt")
	run("commit", "-q", "-m", "initial")

	run("checkout", "-q", "-b", "feature")
	require.NoError(t, os.WriteFile(file, []byte("feature change\n"), 0o644))
	run("commit", "-q", "-am", "feature change")

	run("checkout", "-q", "main")
	require.NoError(t, os.WriteFile(file, []byte("main change\n"), 0o644))
	run("commit", "-q", "-am", "main change")

	return dir, "shared.txt"
}

// TestCoordinateMerge_ResolvesAgainstRepoPathNotCWD guards the orchestrator's
// merge path against the same cwd/repoPath confusion at the integration
// level: the merger is constructed against a repo the test process is never
// chdir'd into, matching how orchestratord runs with --repo-path pointed at
// a checkout it doesn't live in.
func TestCoordinateMerge_ResolvesAgainstRepoPathNotCWD(t *testing.T) {
	repo, file := initConflictingRepo(t)

	elsewhere := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(elsewhere))
	defer os.Chdir(cwd)

	reg := registry.New()
	br := broker.New()
	sched := scheduler.New(reg, br)
	graph := taskgraph.NewGraph()
	merger := merge.New(repo)
	o := New(graph, sched, reg, br, nil, merger, &fakePlanner{}, nil)

	result, err := o.CoordinateMerge(context.Background(), "feature", "main")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Resolved)

	raw, err := os.ReadFile(filepath.Join(repo, file))
	require.NoError(t, err)
	require.Equal(t, "feature change\n", string(raw))
}

func TestProjectStatus_AggregatesCounts(t *testing.T) {
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "solo", Name: "solo", Type: string(taskgraph.TaskTypeAnalyze)},
	}}
	o, _ := newTestOrchestrator(t, pl)
	_, err := o.DecomposeGoal(context.Background(), "goal", nil)
	require.NoError(t, err)

	status := o.ProjectStatus()
	require.Equal(t, 1, status.TotalTasks)
	require.Equal(t, 1, status.ByStatus[taskgraph.StatusPending])
}
