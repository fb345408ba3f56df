// Package budget implements the BudgetManager cross-cutting guard: per
// agent and per project token budgets with warning/hard-stop thresholds
// and cost reporting, guarded by a sync.Mutex around a plain struct.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for agent and project token budgets.
const (
	DefaultAgentCap      = 500_000
	DefaultProjectCap    = 2_000_000
	DefaultWarnThreshold = 0.8
	DefaultPromptSplit   = 0.7
	DefaultCompletionSplit = 0.3
)

// Budget is the per-agent or per-project allocation and usage.
type Budget struct {
	MaxPromptTokens     int
	MaxCompletionTokens int
	MaxTotalTokens      int
	WarnThreshold       float64

	UsedPrompt     int
	UsedCompletion int
}

func (b Budget) UsedTotal() int { return b.UsedPrompt + b.UsedCompletion }

func (b Budget) Utilization() float64 {
	if b.MaxTotalTokens == 0 {
		return 0
	}
	return float64(b.UsedTotal()) / float64(b.MaxTotalTokens)
}

func (b Budget) IsExceeded() bool { return b.UsedTotal() >= b.MaxTotalTokens }
func (b Budget) IsWarning() bool  { return b.Utilization() >= b.WarnThreshold }

// CostReport is the supplemented cost-estimation surface.
type CostReport struct {
	TokensUsed      int
	TokensRemaining int
	UtilizationPct  float64
	EstimatedUSD    float64
	Exceeded        bool
}

// Rates are the per-1K-token prices used for cost estimation. Every Manager
// uses DefaultRates, which assume gpt-4o pricing; there is no setter.
type Rates struct {
	CostPer1kPrompt     float64
	CostPer1kCompletion float64
}

var DefaultRates = Rates{CostPer1kPrompt: 0.005, CostPer1kCompletion: 0.015}

// Manager tracks budgets across agents and the project aggregate. Each
// agent's budget and the project budget are protected by the same lock,
// private to this subsystem; budget, health and context guards never
// share a lock with one another.
type Manager struct {
	mu      sync.Mutex
	project Budget
	agents  map[string]*Budget
	rates   Rates
	start   time.Time

	warnings  prometheus.Counter
	exceeded  prometheus.Counter
}

func New(projectCap int, warnAt float64) *Manager {
	if projectCap == 0 {
		projectCap = DefaultProjectCap
	}
	if warnAt == 0 {
		warnAt = DefaultWarnThreshold
	}
	return &Manager{
		project: Budget{MaxTotalTokens: projectCap, WarnThreshold: warnAt},
		agents:  make(map[string]*Budget),
		rates:   DefaultRates,
		start:   time.Now(),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_budget_warnings_total",
			Help: "Total usage records that left an agent in the warning band.",
		}),
		exceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_budget_exceeded_total",
			Help: "Total agent budget exceeded events.",
		}),
	}
}

func (m *Manager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.warnings, m.exceeded}
}

// AllocateAgent allocates a budget for agentID, splitting maxTokens 0.7/0.3
// prompt/completion by default.
func (m *Manager) AllocateAgent(agentID string, maxTokens, maxPrompt, maxCompletion int) *Budget {
	if maxTokens == 0 {
		maxTokens = DefaultAgentCap
	}
	if maxPrompt == 0 {
		maxPrompt = int(float64(maxTokens) * DefaultPromptSplit)
	}
	if maxCompletion == 0 {
		maxCompletion = int(float64(maxTokens) * DefaultCompletionSplit)
	}
	b := &Budget{
		MaxPromptTokens:     maxPrompt,
		MaxCompletionTokens: maxCompletion,
		MaxTotalTokens:      maxTokens,
		WarnThreshold:       m.project.WarnThreshold,
	}
	m.mu.Lock()
	m.agents[agentID] = b
	m.mu.Unlock()
	return b
}

// RecordUsage accumulates prompt/completion usage for agentID (auto-
// allocating a default budget if absent) and rolls it into the project
// total. Returns false if the agent's own budget is now exceeded.
func (m *Manager) RecordUsage(agentID string, prompt, completion int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.agents[agentID]
	if !ok {
		b = &Budget{
			MaxPromptTokens:     int(DefaultAgentCap * DefaultPromptSplit),
			MaxCompletionTokens: int(DefaultAgentCap * DefaultCompletionSplit),
			MaxTotalTokens:      DefaultAgentCap,
			WarnThreshold:       m.project.WarnThreshold,
		}
		m.agents[agentID] = b
	}
	b.UsedPrompt += prompt
	b.UsedCompletion += completion
	m.project.UsedPrompt += prompt
	m.project.UsedCompletion += completion

	if b.IsWarning() && !b.IsExceeded() {
		m.warnings.Inc()
	}
	if b.IsExceeded() {
		m.exceeded.Inc()
		return false
	}
	return true
}

// CanProceed returns false iff the project total is exceeded or the named
// agent's total is exceeded.
func (m *Manager) CanProceed(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.project.IsExceeded() {
		return false
	}
	if b, ok := m.agents[agentID]; ok {
		return !b.IsExceeded()
	}
	return true
}

func (m *Manager) AgentBudget(agentID string) (Budget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.agents[agentID]
	if !ok {
		return Budget{}, false
	}
	return *b, true
}

func (m *Manager) ProjectBudget() Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project
}

// CostReport produces the per-agent and project cost report.
func (m *Manager) CostReport() (project CostReport, agents map[string]CostReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agents = make(map[string]CostReport, len(m.agents))
	for id, b := range m.agents {
		agents[id] = m.reportFor(*b)
	}
	project = m.reportFor(m.project)
	return project, agents
}

func (m *Manager) reportFor(b Budget) CostReport {
	cost := (float64(b.UsedPrompt)/1000)*m.rates.CostPer1kPrompt +
		(float64(b.UsedCompletion)/1000)*m.rates.CostPer1kCompletion
	remaining := b.MaxTotalTokens - b.UsedTotal()
	if remaining < 0 {
		remaining = 0
	}
	return CostReport{
		TokensUsed:      b.UsedTotal(),
		TokensRemaining: remaining,
		UtilizationPct:  b.Utilization() * 100,
		EstimatedUSD:    cost,
		Exceeded:        b.IsExceeded(),
	}
}

// ResetAgent zeroes an agent's usage, keeping its limits.
func (m *Manager) ResetAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.agents[agentID]; ok {
		b.UsedPrompt = 0
		b.UsedCompletion = 0
	}
}

// Elapsed returns how long the manager has been tracking usage, for the
// project cost report.
func (m *Manager) Elapsed() time.Duration { return time.Since(m.start) }

// FormatUSD is a small helper for "$%.4f" formatting in human-facing
// reports.
func FormatUSD(v float64) string { return fmt.Sprintf("$%.4f", v) }
