// Package config centralizes every operator-facing tunable using
// spf13/viper bound to spf13/cobra persistent flags, all under a single
// AURORA_ environment prefix.
package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration surface consumed by
// cmd/orchestratord to construct the subsystems. The Memory* fields,
// BudgetAgentCap, BudgetPromptSplit and BudgetCompletionSplit are resolved
// here but not read by cmd/orchestratord: the memory store and the budget
// manager run on their package defaults.
type Config struct {
	RepoPath     string
	WorktreeBase string
	BackendDSN   string
	BackendDriver string // "postgres" or "sqlite"

	SchedulerMaxPerCycle int

	BrokerHistorySize      int
	BrokerRequestTimeout    time.Duration
	BrokerPublishRateLimit float64
	BrokerPublishBurst     int

	MemoryShortTermTTL        time.Duration
	MemoryDecayRate           float64
	MemoryPruneThreshold      float64
	MemoryRetrievalMultiplier int

	BudgetAgentCap       int64
	BudgetProjectCap     int64
	BudgetWarnThreshold  float64
	BudgetPromptSplit    float64
	BudgetCompletionSplit float64

	ContextModel             string
	ContextCompletionReserve int

	HealthPollInterval   time.Duration
	HealthStuckThreshold time.Duration
	HealthMaxRestarts    int
}

// RegisterFlags attaches every configuration key to cmd's persistent flags
// and binds it into viper under the AURORA_ prefix.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.String("repo-path", ".", "path to the git repository the orchestrator coordinates")
	flags.String("worktree-base", "", "base directory for per-agent worktrees (defaults to <repo-path>/.worktrees)")
	flags.String("backend-driver", "sqlite", "memory store backend driver (postgres, sqlite)")
	flags.String("backend-dsn", "aurora-memory.db", "memory store backend connection string (postgres DSN or sqlite file path)")

	flags.Int("scheduler-max-per-cycle", 5, "max tasks assigned to a single agent per scheduling cycle")

	flags.Int("broker-history-size", 1000, "bounded message history ring buffer size")
	flags.Duration("broker-request-timeout", 30*time.Second, "default requestResponse timeout")
	flags.Float64("broker-publish-rate-limit", 0, "max publishes/sec across the broker (0 disables throttling)")
	flags.Int("broker-publish-burst", 50, "publish token bucket burst size")

	flags.Duration("memory-short-term-ttl", 24*time.Hour, "short-term memory item expiry")
	flags.Float64("memory-decay-rate", 0.10, "weekly relevance decay rate")
	flags.Float64("memory-prune-threshold", 0.2, "relevance floor below which items are pruned")
	flags.Int("memory-retrieval-multiplier", 3, "candidate over-fetch multiplier before reranking")

	flags.Int64("budget-agent-cap", 500_000, "default per-agent token cap")
	flags.Int64("budget-project-cap", 2_000_000, "project-wide token cap")
	flags.Float64("budget-warn-threshold", 0.8, "utilization fraction at which a warning fires")
	flags.Float64("budget-prompt-split", 0.7, "fraction of an agent's cap reserved for prompt tokens")
	flags.Float64("budget-completion-split", 0.3, "fraction of an agent's cap reserved for completion tokens")

	flags.String("context-model", "gpt-4o", "model name used to resolve the context window limit")
	flags.Int("context-completion-reserve", 4096, "tokens reserved for completion output")

	flags.Duration("health-poll-interval", 30*time.Second, "heartbeat poll interval")
	flags.Duration("health-stuck-threshold", 900*time.Second, "seconds since last heartbeat before a working agent is considered stuck")
	flags.Int("health-max-restarts", 3, "consecutive stuck detections tolerated before an agent is marked dead")

	viper.SetEnvPrefix("aurora")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	names := []string{
		"repo-path", "worktree-base", "backend-driver", "backend-dsn",
		"scheduler-max-per-cycle",
		"broker-history-size", "broker-request-timeout", "broker-publish-rate-limit", "broker-publish-burst",
		"memory-short-term-ttl", "memory-decay-rate", "memory-prune-threshold", "memory-retrieval-multiplier",
		"budget-agent-cap", "budget-project-cap", "budget-warn-threshold", "budget-prompt-split", "budget-completion-split",
		"context-model", "context-completion-reserve",
		"health-poll-interval", "health-stuck-threshold", "health-max-restarts",
	}
	for _, name := range names {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// Load resolves the Config from viper's current state (flags, env, and any
// defaults set via RegisterFlags).
func Load() *Config {
	return &Config{
		RepoPath:      viper.GetString("repo-path"),
		WorktreeBase:  viper.GetString("worktree-base"),
		BackendDriver: viper.GetString("backend-driver"),
		BackendDSN:    viper.GetString("backend-dsn"),

		SchedulerMaxPerCycle: viper.GetInt("scheduler-max-per-cycle"),

		BrokerHistorySize:   viper.GetInt("broker-history-size"),
		BrokerRequestTimeout: viper.GetDuration("broker-request-timeout"),
		BrokerPublishRateLimit: viper.GetFloat64("broker-publish-rate-limit"),
		BrokerPublishBurst:     viper.GetInt("broker-publish-burst"),

		MemoryShortTermTTL:        viper.GetDuration("memory-short-term-ttl"),
		MemoryDecayRate:           viper.GetFloat64("memory-decay-rate"),
		MemoryPruneThreshold:      viper.GetFloat64("memory-prune-threshold"),
		MemoryRetrievalMultiplier: viper.GetInt("memory-retrieval-multiplier"),

		BudgetAgentCap:        viper.GetInt64("budget-agent-cap"),
		BudgetProjectCap:      viper.GetInt64("budget-project-cap"),
		BudgetWarnThreshold:   viper.GetFloat64("budget-warn-threshold"),
		BudgetPromptSplit:     viper.GetFloat64("budget-prompt-split"),
		BudgetCompletionSplit: viper.GetFloat64("budget-completion-split"),

		ContextModel:             viper.GetString("context-model"),
		ContextCompletionReserve: viper.GetInt("context-completion-reserve"),

		HealthPollInterval:   viper.GetDuration("health-poll-interval"),
		HealthStuckThreshold: viper.GetDuration("health-stuck-threshold"),
		HealthMaxRestarts:    viper.GetInt("health-max-restarts"),
	}
}
