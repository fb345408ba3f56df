// Package orchestrator wires the task graph, scheduler, broker, worktree
// manager, merge resolver and memory layer into the top-level Orchestrator
// operations: DecomposeGoal, NextReady, MarkComplete, CoordinateMerge,
// ProjectStatus.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/merge"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/scheduler"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/worktree"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/planner"
)

// DefaultReflexionTimeout bounds how long MarkComplete waits for a worker's
// reflexion reply before giving up and requeuing anyway.
const DefaultReflexionTimeout = 10 * time.Second

// DefaultMaxConcurrentDispatch bounds how many scheduler.Assign calls
// DispatchReady runs in flight at once.
const DefaultMaxConcurrentDispatch = 4

// Orchestrator owns the TaskGraph exclusively (data model ownership rule)
// and coordinates the other subsystems through their own public APIs.
type Orchestrator struct {
	graph     *taskgraph.Graph
	scheduler *scheduler.Scheduler
	reg       *registry.Registry
	br        *broker.Broker
	wt        *worktree.Manager
	merger    *merge.Resolver
	planner   planner.Planner
	mem       *memory.Store
	logger    *slog.Logger

	reflexionTimeout time.Duration
	failed           map[string]bool
	dispatchSem      *semaphore.Weighted
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithMemory wires episodic memory so failed tasks record a reflection
// before being retried. Without it, MarkComplete still
// runs the reflexion request/response exchange but skips the memory write.
func WithMemory(m *memory.Store) Option { return func(o *Orchestrator) { o.mem = m } }

// WithReflexionTimeout overrides DefaultReflexionTimeout.
func WithReflexionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.reflexionTimeout = d }
}

// WithMaxConcurrentDispatch overrides DefaultMaxConcurrentDispatch, the
// number of scheduler.Assign calls DispatchReady runs concurrently.
func WithMaxConcurrentDispatch(n int) Option {
	return func(o *Orchestrator) { o.dispatchSem = semaphore.NewWeighted(int64(n)) }
}

func New(graph *taskgraph.Graph, sched *scheduler.Scheduler, reg *registry.Registry, br *broker.Broker, wt *worktree.Manager, merger *merge.Resolver, pl planner.Planner, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		graph: graph, scheduler: sched, reg: reg, br: br, wt: wt, merger: merger,
		planner: pl, logger: logger, failed: make(map[string]bool),
		reflexionTimeout: DefaultReflexionTimeout,
		dispatchSem:      semaphore.NewWeighted(DefaultMaxConcurrentDispatch),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DecomposeGoal calls the external planning collaborator, parses the
// returned task list, and adds each parsed task to the graph under
// cycle-preventing Add. Parse/add errors skip the offending task and are
// logged; no partial graph mutation persists if a cycle would form.
func (o *Orchestrator) DecomposeGoal(ctx context.Context, goal string, goalContext map[string]string) ([]*taskgraph.Task, error) {
	proposed, err := o.planner.DecomposeGoal(ctx, goal, goalContext)
	if err != nil {
		o.logger.Error("decompose goal failed", "error", err)
		return nil, errors.Wrap(err, "decompose goal")
	}

	var added []*taskgraph.Task
	for _, p := range proposed {
		t, err := taskgraph.New(p.ID, p.Name, taskgraph.TaskType(p.Type), p.Deps)
		if err != nil {
			o.logger.Warn("skipping task: invalid dependency", "task_id", p.ID, "error", err)
			continue
		}
		t.Priority = taskgraph.Priority(p.Priority)
		t.Complexity = p.Complexity
		t.Requirements = p.Requirements
		if err := o.graph.Add(t); err != nil {
			o.logger.Warn("skipping task: graph add failed", "task_id", p.ID, "error", err)
			continue
		}
		added = append(added, t)
	}
	return added, nil
}

// NextReady returns ready tasks ordered by priority desc, creation asc.
func (o *Orchestrator) NextReady() []*taskgraph.Task {
	return o.graph.Ready()
}

// DispatchReady assigns every currently-ready task to a scored worker via
// the scheduler, starting a fresh per-cycle counter first. Up to
// DefaultMaxConcurrentDispatch (or WithMaxConcurrentDispatch's override)
// assignments run concurrently, bounded by a weighted semaphore.
func (o *Orchestrator) DispatchReady(ctx context.Context) error {
	o.reg.ResetCycle()
	ready := o.NextReady()

	var wg sync.WaitGroup
	for _, t := range ready {
		t.MarkQueued()
		if err := o.dispatchSem.Acquire(ctx, 1); err != nil {
			o.logger.Warn("dispatch cancelled", "task_id", t.ID, "error", err)
			continue
		}
		wg.Add(1)
		go func(t *taskgraph.Task) {
			defer wg.Done()
			defer o.dispatchSem.Release(1)
			if _, err := o.scheduler.Assign(ctx, t); err != nil {
				o.logger.Warn("assignment failed, task remains queued", "task_id", t.ID, "error", err)
			}
		}(t)
	}
	wg.Wait()
	return nil
}

// MarkComplete transitions a task to terminal, updates the per-agent
// success/failure counters, and — on failure — either requeues the task
// after a reflexion exchange (if attempts remain) or cascades a skip to
// its dependents.
func (o *Orchestrator) MarkComplete(agentID, taskID string, result *taskgraph.Result) error {
	t, ok := o.graph.Get(taskID)
	if !ok {
		return errors.Wrapf(taskgraph.ErrUnknownTask, "task %q", taskID)
	}
	t.Complete(result)
	if err := o.reg.RecordOutcome(agentID, result != nil && result.Success); err != nil {
		o.logger.Warn("record outcome failed", "agent_id", agentID, "error", err)
	}
	if result != nil && result.Success {
		return nil
	}

	failureReason := ""
	if result != nil {
		failureReason = result.Error
	}
	if t.CanRetry() {
		o.reflect(context.Background(), agentID, t, failureReason)
		t.Requeue()
		return nil
	}

	o.failed[taskID] = true
	o.graph.CascadeSkip(taskID)
	return nil
}

// reflect runs the reflexion-on-failure exchange: a request/response round
// trip with the worker that failed the task, followed by an episodic
// memory write regardless of whether a reply arrived in time, so the
// lesson survives even if the worker never answers.
func (o *Orchestrator) reflect(ctx context.Context, agentID string, t *taskgraph.Task, failureReason string) {
	req := broker.NewReflexionRequest("orchestrator", agentID, t.ID, failureReason, t.Attempt())
	reply, err := o.br.RequestResponse(ctx, req, o.reflexionTimeout)

	lesson := fmt.Sprintf("task %q (%s) failed on attempt %d: %s", t.ID, t.Name, t.Attempt(), failureReason)
	if err == nil && reply != nil {
		if note, ok := reply.Payload["reflection"].(string); ok && note != "" {
			lesson = lesson + " — reflection: " + note
		}
	} else {
		o.logger.Warn("reflexion request did not complete", "task_id", t.ID, "agent_id", agentID, "error", err)
	}

	if o.mem != nil {
		if _, err := o.mem.Store(ctx, lesson, memory.TypeEpisodic, []string{"reflection", t.ID}); err != nil {
			o.logger.Warn("store reflection failed", "task_id", t.ID, "error", err)
		}
	}
}

// CoordinateMerge delegates to the merge subsystem; for every reported
// conflict it attempts automated resolution with the default strategy and
// returns the found/resolved counts.
func (o *Orchestrator) CoordinateMerge(ctx context.Context, sourceBranch, targetBranch string) (*merge.Result, error) {
	result, err := o.merger.MergeBranch(ctx, sourceBranch, targetBranch)
	if err != nil {
		return nil, errors.Wrap(err, "merge branch")
	}
	if result.Success {
		return result, nil
	}

	resolved := 0
	var stillConflicting []string
	for _, file := range result.RemainingConflicts {
		ok, err := o.merger.AutoResolve(ctx, file, merge.DefaultStrategy)
		if err != nil || !ok {
			stillConflicting = append(stillConflicting, file)
			continue
		}
		resolved++
	}
	result.Resolved = resolved
	result.RemainingConflicts = stillConflicting
	result.Success = len(stillConflicting) == 0
	if !result.Success {
		if abortErr := o.merger.AbortMerge(ctx); abortErr != nil {
			o.logger.Error("abort merge failed", "error", abortErr)
		}
	}
	return result, nil
}

// Status is the project status snapshot.
type Status struct {
	TotalTasks int
	ByStatus   map[taskgraph.Status]int
	Failed     int
	TakenAt    time.Time
}

func (o *Orchestrator) ProjectStatus() Status {
	counts := o.graph.StatusCounts()
	total := 0
	for _, c := range counts {
		total += c
	}
	return Status{TotalTasks: total, ByStatus: counts, Failed: len(o.failed), TakenAt: time.Now()}
}
