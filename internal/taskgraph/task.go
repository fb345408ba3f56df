// Package taskgraph implements the Task, TaskResult and TaskGraph types that
// form the orchestrator's dependency graph, along with the invariants that
// keep the graph acyclic and the task state machine well-formed.
package taskgraph

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TaskType is a closed enum of the kinds of work the orchestrator can
// schedule. Using a closed enum instead of a bare string makes mis-spelled
// task types impossible by construction.
type TaskType string

const (
	TaskTypeAnalyze       TaskType = "analyze"
	TaskTypeDesign        TaskType = "design"
	TaskTypePlan          TaskType = "plan"
	TaskTypeResearch      TaskType = "research"
	TaskTypeImplement     TaskType = "implement"
	TaskTypeWriteCode     TaskType = "write-code"
	TaskTypeRefactor      TaskType = "refactor"
	TaskTypeFixBug        TaskType = "fix-bug"
	TaskTypeWriteTests    TaskType = "write-tests"
	TaskTypeRunTests      TaskType = "run-tests"
	TaskTypeCodeReview    TaskType = "code-review"
	TaskTypeSecurityAudit TaskType = "security-audit"
	TaskTypeDeploy        TaskType = "deploy"
	TaskTypeDocument      TaskType = "document"
)

// Priority mirrors the fixed priority levels in the data model.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Status is the task's position in its state machine.
type Status string

const (
	StatusPending           Status = "pending"
	StatusQueued            Status = "queued"
	StatusAssigned          Status = "assigned"
	StatusRunning           Status = "running"
	StatusWaitingDependency Status = "waiting-dependency"
	StatusPaused            Status = "paused"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusBlocked           Status = "blocked"
)

// IsTerminal reports whether status cannot transition further except via
// the failed -> running retry edge.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return true
	default:
		return false
	}
}

// Result is the immutable outcome attached to a task once it finishes.
type Result struct {
	Success   bool
	Output    string
	Artifacts []string
	Error     string
	Metrics   map[string]float64
}

// Task is a single unit of work in the graph. Status/Result/Error/attempt
// mutate under a private mutex so concurrent scheduler and orchestrator
// goroutines observe consistent state.
type Task struct {
	ID           string
	Name         string
	Type         TaskType
	Priority     Priority
	Complexity   int
	Deps         []string
	ParentID     string
	ProjectID    string
	Context      map[string]string
	Requirements []string
	Timeout      time.Duration
	MaxAttempts  int
	EstTokens    int
	Tags         []string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu       sync.RWMutex
	status   Status
	attempt  int
	result   *Result
}

// New constructs a task in pending status with a generated id if none is
// supplied. It rejects a task that depends on itself.
func New(id, name string, typ TaskType, deps []string) (*Task, error) {
	if id == "" {
		id = uuid.NewString()
	}
	for _, d := range deps {
		if d == id {
			return nil, errors.Wrapf(ErrInvalidDependency, "task %q depends on itself", id)
		}
	}
	return &Task{
		ID:          id,
		Name:        name,
		Type:        typ,
		Priority:    PriorityNormal,
		Deps:        append([]string(nil), deps...),
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
		status:      StatusPending,
	}, nil
}

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Attempt() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempt
}

func (t *Task) Result() *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// MarkQueued, MarkAssigned transition pre-execution states.
func (t *Task) MarkQueued() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusQueued
}

func (t *Task) MarkAssigned() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusAssigned
}

// MarkRunning transitions to running, recording startedAt the first time
// only: set iff status has entered running at least once.
func (t *Task) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	t.status = StatusRunning
	t.attempt++
}

// Complete transitions to a terminal state carrying result, recording
// completedAt.
func (t *Task) Complete(res *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = res
	t.CompletedAt = time.Now()
	if res != nil && res.Success {
		t.status = StatusCompleted
	} else {
		t.status = StatusFailed
	}
}

// CanRetry reports whether a failed task may re-enter running: attempt <
// max-attempts, the only permitted failed -> running edge.
func (t *Task) CanRetry() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == StatusFailed && t.attempt < t.MaxAttempts
}

// Requeue resets a failed task back to queued so it is picked up again;
// only valid while CanRetry holds.
func (t *Task) Requeue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusQueued
	t.CompletedAt = time.Time{}
}

func (t *Task) MarkCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusCancelled
	t.CompletedAt = time.Now()
}

func (t *Task) MarkBlocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusBlocked
}
