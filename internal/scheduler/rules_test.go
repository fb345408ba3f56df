package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
)

func TestRuleSet_MatchingRuleOverridesRole(t *testing.T) {
	rs, err := NewRuleSet()
	require.NoError(t, err)
	require.NoError(t, rs.AddRule(`"security" in tags || complexity >= 9`, registry.RoleSecurityAuditor))

	task := mustTask(t, "t1", taskgraph.TaskTypeWriteCode)
	task.Tags = []string{"security"}

	role, ok := rs.Evaluate(task)
	require.True(t, ok)
	require.Equal(t, registry.RoleSecurityAuditor, role)
}

func TestRuleSet_NoMatchFallsThrough(t *testing.T) {
	rs, err := NewRuleSet()
	require.NoError(t, err)
	require.NoError(t, rs.AddRule(`"security" in tags`, registry.RoleSecurityAuditor))

	task := mustTask(t, "t1", taskgraph.TaskTypeWriteCode)

	_, ok := rs.Evaluate(task)
	require.False(t, ok)
}

func TestScheduler_Assign_RuleOverridesFixedTable(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register("backend-1", registry.RoleBackend, "Backend One")
	require.NoError(t, err)
	_, err = reg.Register("sec-1", registry.RoleSecurityAuditor, "Security One")
	require.NoError(t, err)

	rs, err := NewRuleSet()
	require.NoError(t, err)
	require.NoError(t, rs.AddRule(`complexity >= 9`, registry.RoleSecurityAuditor))

	br := broker.New()
	br.Subscribe(broker.AgentChannel("backend-1"), func(broker.Message) {})
	br.Subscribe(broker.AgentChannel("sec-1"), func(broker.Message) {})
	sched := New(reg, br, WithRules(rs))

	task := mustTask(t, "t1", taskgraph.TaskTypeWriteCode)
	task.Complexity = 9

	agentID, err := sched.Assign(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, "sec-1", agentID)
}
