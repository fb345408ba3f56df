package taskgraph

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Graph is the task-id -> Task map plus the forward-edge (dependency ->
// dependents) mapping described in the data model. All mutation and
// readiness computation is serialized by a single mutex guarding the
// tasks/forward/inDegree maps together.
type Graph struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	forward  map[string]map[string]struct{} // dependency -> dependents
	inDegree map[string]int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:    make(map[string]*Task),
		forward:  make(map[string]map[string]struct{}),
		inDegree: make(map[string]int),
	}
}

// Add inserts a task, rejecting unknown dependency ids and any addition
// that would introduce a cycle. On rejection the graph is left completely
// unmodified.
func (g *Graph) Add(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID]; exists {
		return errors.Wrapf(ErrInvalidDependency, "task %q already present", t.ID)
	}
	for _, dep := range t.Deps {
		if _, ok := g.tasks[dep]; !ok {
			return errors.Wrapf(ErrInvalidDependency, "task %q depends on unknown task %q", t.ID, dep)
		}
	}

	// Cycle check: a new node with edges dep -> t.ID can only create a
	// cycle if t.ID can already reach one of its own dependencies.
	for _, dep := range t.Deps {
		if g.canReach(t.ID, dep) {
			return errors.Wrapf(ErrCycleDetected, "adding %q would create a cycle via %q", t.ID, dep)
		}
	}

	g.tasks[t.ID] = t
	g.inDegree[t.ID] = len(t.Deps)
	if _, ok := g.forward[t.ID]; !ok {
		g.forward[t.ID] = make(map[string]struct{})
	}
	for _, dep := range t.Deps {
		if _, ok := g.forward[dep]; !ok {
			g.forward[dep] = make(map[string]struct{})
		}
		g.forward[dep][t.ID] = struct{}{}
	}
	return nil
}

// canReach reports whether from can reach to by following forward edges.
// Must be called with mu held.
func (g *Graph) canReach(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for next := range g.forward[n] {
			stack = append(stack, next)
		}
	}
	return false
}

// Get returns the task by id.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	return t, ok
}

// Size returns the number of tasks currently in the graph.
func (g *Graph) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// isCompleted reports whether id names a task in completed status. Must be
// called with mu held.
func (g *Graph) isCompleted(id string) bool {
	t := g.tasks[id]
	return t != nil && t.Status() == StatusCompleted
}

// Ready returns every task in {pending,queued} status whose dependencies
// are all completed, ordered by priority descending then creation time
// ascending.
func (g *Graph) Ready() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*Task
	for _, t := range g.tasks {
		st := t.Status()
		if st != StatusPending && st != StatusQueued {
			continue
		}
		allDepsDone := true
		for _, dep := range t.Deps {
			if !g.isCompleted(dep) {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TopologicalSort returns a permutation of all task ids respecting
// dependency order, via Kahn's algorithm over the in-degree map.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDeg := make(map[string]int, len(g.tasks))
	for id, d := range g.inDegree {
		inDeg[id] = d
	}
	var queue []string
	for id, d := range inDeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		var newly []string
		for dependent := range g.forward[id] {
			inDeg[dependent]--
			if inDeg[dependent] == 0 {
				newly = append(newly, dependent)
			}
		}
		sort.Strings(newly)
		queue = append(queue, newly...)
	}
	if len(order) != len(g.tasks) {
		return nil, errors.Wrap(ErrCycleDetected, "topological sort could not order every task")
	}
	return order, nil
}

// CascadeSkip marks every task transitively depending on failedID that is
// still in a non-terminal state as cancelled, via a BFS over forward edges.
func (g *Graph) CascadeSkip(failedID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skipped []string
	queue := []string{failedID}
	visited := map[string]bool{failedID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for dependent := range g.forward[id] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			if t, ok := g.tasks[dependent]; ok {
				st := t.Status()
				if !st.IsTerminal() {
					t.MarkCancelled()
					skipped = append(skipped, dependent)
				}
			}
			queue = append(queue, dependent)
		}
	}
	return skipped
}

// StatusCounts aggregates tasks by status for the project status snapshot.
func (g *Graph) StatusCounts() map[Status]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := make(map[Status]int)
	for _, t := range g.tasks {
		counts[t.Status()]++
	}
	return counts
}

// All returns every task currently in the graph.
func (g *Graph) All() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	return out
}
