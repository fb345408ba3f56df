// Package registry implements the AgentRecord registry: the set of worker
// agents available to the scheduler, keyed by id, with role-based lookup,
// availability tracking, and per-cycle scoring counters.
package registry

import (
	"sync"

	"github.com/pkg/errors"
)

// Role is a closed enum of the worker specializations the scheduler can
// target.
type Role string

const (
	RoleMaestro          Role = "maestro"
	RoleArchitect        Role = "architect"
	RoleBackend          Role = "backend"
	RoleFrontend         Role = "frontend"
	RoleDatabase         Role = "database"
	RoleTestEngineer     Role = "test-engineer"
	RoleSecurityAuditor  Role = "security-auditor"
	RoleCodeReviewer     Role = "code-reviewer"
	RoleDevOps           Role = "devops"
	RoleDocumentation    Role = "documentation"
	RoleResearch         Role = "research"
	RoleProductAnalyst   Role = "product-analyst"
	RoleMemoryCoordinator Role = "memory-coordinator"
)

var ErrNotFound = errors.New("agent not found")
var ErrAlreadyRegistered = errors.New("agent already registered")

// Record is an AgentRecord: identity, role, availability and the counters
// the scheduler's composite score reads and mutates.
type Record struct {
	ID          string
	Role        Role
	DisplayName string
	Available   bool

	// Scoring counters, mutated atomically with a scheduling assignment.
	Assigned      int
	CycleAssigned int
	Completed     int
	Failed        int
}

// Registry is the exclusive owner of AgentRecords (data model ownership
// rule). All access is guarded by a single lock; reads return snapshots so
// callers never observe a record mid-mutation.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // registration order, preserved for round-robin tie-breaking
	cursor  int      // round_robin_cursor, advanced on each successful assign
}

func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register creates an AgentRecord. Re-registering an existing id is an
// error; unregister first.
func (r *Registry) Register(id string, role Role, displayName string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; exists {
		return nil, errors.Wrapf(ErrAlreadyRegistered, "agent %q", id)
	}
	rec := &Record{ID: id, Role: role, DisplayName: displayName, Available: true}
	r.records[id] = rec
	r.order = append(r.order, id)
	return rec, nil
}

// Unregister destroys an AgentRecord.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetAvailable mutates the availability flag.
func (r *Registry) SetAvailable(id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "agent %q", id)
	}
	rec.Available = available
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// AvailableByRole returns a stable-ordered snapshot of available agents for
// a role (first-seen order preserved via id sort is NOT used here —
// insertion order matters for round-robin/tie-breaking, so the snapshot is
// taken from an id list built once at Register time).
func (r *Registry) AvailableByRole(role Role) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, id := range r.order {
		rec, ok := r.records[id]
		if ok && rec.Role == role && rec.Available {
			out = append(out, *rec)
		}
	}
	return out
}

// Cursor returns the current round-robin cursor value.
func (r *Registry) Cursor() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// AdvanceCursor increments the round-robin cursor after a successful
// assignment.
func (r *Registry) AdvanceCursor() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor++
}

// RecordAssignment mutates a winner's scoring counters atomically with
// respect to other registry reads.
func (r *Registry) RecordAssignment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "agent %q", id)
	}
	rec.Assigned++
	rec.CycleAssigned++
	return nil
}

// RecordOutcome updates the completed/failed counters used by the success
// scoring term.
func (r *Registry) RecordOutcome(id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "agent %q", id)
	}
	if success {
		rec.Completed++
	} else {
		rec.Failed++
	}
	return nil
}

// ResetCycle zeroes every agent's per-cycle counter, called by the
// Orchestrator's DispatchReady at the start of a new scheduling cycle.
func (r *Registry) ResetCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		rec.CycleAssigned = 0
	}
}
