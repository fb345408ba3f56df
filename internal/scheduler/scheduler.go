// Package scheduler selects the best available worker for a ready task and
// dispatches it over the broker, scoring candidates with a fixed weighted
// composite and breaking ties with round-robin rotation.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
)

// ErrNoAgentAvailable is raised when the Registry has no candidate for the
// target role.
var ErrNoAgentAvailable = errors.New("no agent available")

// ErrDeliveryFailed is raised when the broker reports zero deliveries for
// an assignment.
var ErrDeliveryFailed = errors.New("delivery failed")

// DefaultMaxPerCycle is the per-agent hard cap on assignments within a
// single scheduling cycle.
const DefaultMaxPerCycle = 5

// typeToRole is the fixed task-type -> role table. A closed enum on both
// sides makes this a total function with an explicit default.
var typeToRole = map[taskgraph.TaskType]registry.Role{
	taskgraph.TaskTypeDesign:        registry.RoleArchitect,
	taskgraph.TaskTypeAnalyze:       registry.RoleProductAnalyst,
	taskgraph.TaskTypeResearch:      registry.RoleResearch,
	taskgraph.TaskTypeWriteCode:     registry.RoleBackend,
	taskgraph.TaskTypeImplement:     registry.RoleBackend,
	taskgraph.TaskTypeFixBug:        registry.RoleBackend,
	taskgraph.TaskTypeWriteTests:    registry.RoleTestEngineer,
	taskgraph.TaskTypeRunTests:      registry.RoleTestEngineer,
	taskgraph.TaskTypeCodeReview:    registry.RoleCodeReviewer,
	taskgraph.TaskTypeSecurityAudit: registry.RoleSecurityAuditor,
	taskgraph.TaskTypeDeploy:        registry.RoleDevOps,
	taskgraph.TaskTypeDocument:      registry.RoleDocumentation,
}

// RoleFor resolves a task's target role from its type via the fixed table,
// defaulting to backend.
func RoleFor(t *taskgraph.Task) registry.Role {
	if r, ok := typeToRole[t.Type]; ok {
		return r
	}
	return registry.RoleBackend
}

// Scheduler dispatches ready tasks to scored workers via the broker.
type Scheduler struct {
	mu         sync.Mutex // serializes Assign from snapshot to counter update
	reg        *registry.Registry
	br         *broker.Broker
	maxPerCycle int
	rules       *RuleSet

	assignments prometheus.Counter
	failures    prometheus.Counter
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithMaxPerCycle overrides the per-agent per-cycle assignment cap.
func WithMaxPerCycle(n int) Option {
	return func(s *Scheduler) { s.maxPerCycle = n }
}

// WithRules installs an operator-defined routing RuleSet, consulted before
// the fixed task-type -> role table on every Assign call.
func WithRules(rs *RuleSet) Option {
	return func(s *Scheduler) { s.rules = rs }
}

// roleFor resolves a task's target role: the scheduler's CEL rules, if any
// match, win; otherwise falls back to the fixed type->role table.
func (s *Scheduler) roleFor(t *taskgraph.Task) registry.Role {
	if role, ok := s.rules.Evaluate(t); ok {
		return role
	}
	return RoleFor(t)
}

func New(reg *registry.Registry, br *broker.Broker, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:         reg,
		br:          br,
		maxPerCycle: DefaultMaxPerCycle,
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_scheduler_assignments_total",
			Help: "Total successful task assignments.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_scheduler_assignment_failures_total",
			Help: "Total failed assignment attempts.",
		}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Collectors exposes the scheduler's prometheus collectors for
// registration by the caller.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.assignments, s.failures}
}

type candidate struct {
	rec   registry.Record
	index int
	score float64
}

// score computes the composite score for a candidate against the
// current role set, max-assigned across all candidates, and the
// registry's round-robin cursor.
func score(rec registry.Record, targetRole registry.Role, maxAssigned int, idx, cursor, n, maxPerCycle int) float64 {
	if rec.CycleAssigned >= maxPerCycle {
		return 0
	}

	spec := 0.3
	if rec.Role == targetRole {
		spec = 1.0
	}

	active := rec.Assigned - rec.Completed - rec.Failed
	if active < 0 {
		active = 0
	}
	load := 1.0 / (1.0 + float64(active))

	var success float64 = 0.5
	if denom := rec.Completed + rec.Failed; denom > 0 {
		success = float64(rec.Completed) / float64(denom)
	}

	recency := 1.0
	if maxAssigned > 0 {
		recency = 1.0 - float64(rec.Assigned)/float64(maxAssigned)
	}

	rotation := 0.3
	if n > 0 && idx == cursor%n {
		rotation = 1.0
	}

	return 0.35*spec + 0.25*load + 0.20*success + 0.10*recency + 0.10*rotation
}

// Assign selects the best worker for t and publishes a TASK_ASSIGN message
// to its inbox channel. It mutates the winner's scoring counters and
// advances the round-robin cursor atomically with the candidate snapshot.
func (s *Scheduler) Assign(ctx context.Context, t *taskgraph.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetRole := s.roleFor(t)
	candidates := s.reg.AvailableByRole(targetRole)
	if len(candidates) == 0 {
		s.failures.Inc()
		return "", errors.Wrapf(ErrNoAgentAvailable, "role %q", targetRole)
	}

	maxAssigned := 0
	for _, c := range candidates {
		if c.Assigned > maxAssigned {
			maxAssigned = c.Assigned
		}
	}
	cursor := s.reg.Cursor()
	n := len(candidates)

	scored := make([]candidate, len(candidates))
	for i, c := range candidates {
		scored[i] = candidate{rec: c, index: i, score: score(c, targetRole, maxAssigned, i, cursor, n, s.maxPerCycle)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score // first-seen order preserved by stable sort on ties
	})

	winner := scored[0]
	if winner.score <= 0 {
		s.failures.Inc()
		return "", errors.Wrapf(ErrNoAgentAvailable, "all candidates at per-cycle cap for role %q", targetRole)
	}

	msg := broker.NewTaskAssign("orchestrator", winner.rec.ID, TaskEnvelope(t))
	count, err := s.br.Publish(ctx, msg)
	if err != nil {
		s.failures.Inc()
		return "", errors.Wrap(err, "publish task-assign")
	}
	if count == 0 {
		s.failures.Inc()
		return "", errors.Wrapf(ErrDeliveryFailed, "agent %q", winner.rec.ID)
	}

	if err := s.reg.RecordAssignment(winner.rec.ID); err != nil {
		return "", errors.Wrap(err, "record assignment")
	}
	s.reg.AdvanceCursor()
	t.MarkAssigned()
	s.assignments.Inc()
	return winner.rec.ID, nil
}

// TaskEnvelope builds the externalized view of a task for the wire payload.
func TaskEnvelope(t *taskgraph.Task) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"name":            t.Name,
		"type":            string(t.Type),
		"priority":        int(t.Priority),
		"complexity":      t.Complexity,
		"context":         t.Context,
		"requirements":    t.Requirements,
		"timeout_seconds": int(t.Timeout.Seconds()),
		"attempt_number":  t.Attempt(),
		"max_attempts":    t.MaxAttempts,
	}
}
