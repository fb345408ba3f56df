// Package planner defines the external planning collaborator interface the
// Orchestrator's decomposeGoal depends on — decomposition itself is an LLM
// call, wrapped around the shape of sashabaranov/go-openai chat completions.
package planner

import "context"

// ProposedTask is the structured shape the planning collaborator is
// expected to return for each task it proposes, mirroring the
// task-assignment fields the Orchestrator parses into taskgraph.Task.
type ProposedTask struct {
	ID           string
	Name         string
	Type         string
	TargetRole   string
	Priority     int
	Complexity   int
	Deps         []string
	Requirements []string
}

// Planner decomposes a goal into a list of proposed tasks.
type Planner interface {
	DecomposeGoal(ctx context.Context, goal string, context map[string]string) ([]ProposedTask, error)
}
