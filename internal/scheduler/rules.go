package scheduler

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
)

// rule is a compiled CEL routing rule: if its program evaluates true
// against a task's attributes, role overrides the fixed type->role table.
type rule struct {
	expression string
	program    cel.Program
	role       registry.Role
}

// RuleSet is an ordered collection of CEL-expressed routing rules,
// evaluated before the fixed task-type -> role table, built with
// google/cel-go's cel.NewEnv/cel.Program for user-supplied filter
// expressions.
type RuleSet struct {
	env   *cel.Env
	rules []rule
}

// NewRuleSet declares the CEL environment's variables: task_type (string),
// complexity (int), priority (int), tags (list of string).
func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("task_type", cel.StringType),
		cel.Variable("complexity", cel.IntType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	return &RuleSet{env: env}, nil
}

// AddRule compiles expression and appends it, routing matching tasks to
// role. Later-added rules are evaluated after earlier ones; the first
// match wins.
func (rs *RuleSet) AddRule(expression string, role registry.Role) error {
	ast, issues := rs.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return errors.Wrapf(issues.Err(), "compile rule %q", expression)
	}
	prg, err := rs.env.Program(ast)
	if err != nil {
		return errors.Wrapf(err, "build program for rule %q", expression)
	}
	rs.rules = append(rs.rules, rule{expression: expression, program: prg, role: role})
	return nil
}

// Evaluate returns the role of the first matching rule, if any.
func (rs *RuleSet) Evaluate(t *taskgraph.Task) (registry.Role, bool) {
	if rs == nil {
		return "", false
	}
	tags := make([]any, len(t.Tags))
	for i, tag := range t.Tags {
		tags[i] = tag
	}
	vars := map[string]any{
		"task_type":  string(t.Type),
		"complexity": int64(t.Complexity),
		"priority":   int64(t.Priority),
		"tags":       tags,
	}
	for _, r := range rs.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.role, true
		}
	}
	return "", false
}
