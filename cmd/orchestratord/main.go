// Command orchestratord runs the multi-agent software-development
// orchestrator: task graph, scheduler, messaging broker, worktree and
// merge coordination, memory layer, and the budget/context/health guards,
// wired together and exposed over the transport surface in server/. Its
// cobra root command binds every tunable under a single AURORA_ env
// prefix.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/budget"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/config"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/contextwindow"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/health"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory/persist"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/merge"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/orchestrator"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/scheduler"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/version"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/worktree"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/planner"
	"github.com/mohitmishra786/aurora-dev-sub001/server"
)

const defaultShutdownGrace = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:     "orchestratord",
	Short:   "Coordinates a fleet of software-development agents over a shared task graph.",
	Version: version.String(),
	RunE:    run,
}

func init() {
	config.RegisterFlags(rootCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "orchestratord")

	wt, err := worktree.New(cfg.RepoPath, cfg.WorktreeBase)
	if err != nil {
		return fmt.Errorf("init worktree manager: %w", err)
	}
	merger := merge.New(cfg.RepoPath)

	brokerOpts := []broker.Option{broker.WithHistorySize(cfg.BrokerHistorySize), broker.WithLogger(logger)}
	if cfg.BrokerPublishRateLimit > 0 {
		brokerOpts = append(brokerOpts, broker.WithPublishRateLimit(cfg.BrokerPublishRateLimit, cfg.BrokerPublishBurst))
	}
	br := broker.New(brokerOpts...)
	reg := registry.New()

	schedOpts := []scheduler.Option{scheduler.WithMaxPerCycle(cfg.SchedulerMaxPerCycle)}
	if rules, err := buildRoutingRules(); err != nil {
		logger.Warn("routing rules disabled", "error", err)
	} else {
		schedOpts = append(schedOpts, scheduler.WithRules(rules))
	}
	sched := scheduler.New(reg, br, schedOpts...)
	graph := taskgraph.NewGraph()

	budgetMgr := budget.New(int(cfg.BudgetProjectCap), cfg.BudgetWarnThreshold)
	ctxValidator := contextwindow.New(cfg.ContextModel, cfg.ContextCompletionReserve)
	healthMon := health.New(cfg.HealthStuckThreshold, cfg.HealthPollInterval, cfg.HealthMaxRestarts)

	reg2 := prometheus.NewRegistry()
	for _, c := range sched.Collectors() {
		_ = reg2.Register(c)
	}
	for _, c := range br.Collectors() {
		_ = reg2.Register(c)
	}
	for _, c := range budgetMgr.Collectors() {
		_ = reg2.Register(c)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	memOpts := []memory.Option{}
	if backend, err := openMemoryBackend(ctx, cfg.BackendDriver, cfg.BackendDSN); err != nil {
		logger.Warn("memory persistence disabled", "error", err)
	} else if backend != nil {
		memOpts = append(memOpts, memory.WithBackend(backend))
		defer backend.Close()
	}
	memStore := memory.New(memOpts...)
	orch := orchestrator.New(graph, sched, reg, br, wt, merger, planner.Unconfigured{}, logger,
		orchestrator.WithMemory(memStore), orchestrator.WithReflexionTimeout(cfg.BrokerRequestTimeout))

	healthMon.Start(ctx)
	defer healthMon.Stop()

	srv := server.New(orch, budgetMgr, ctxValidator, healthMon, reg2, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	logger.Info("orchestratord started", "version", version.StringFull(), "repo_path", cfg.RepoPath, "backend_driver", cfg.BackendDriver)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	br.Stop()
	return nil
}

// openMemoryBackend opens the durable memory.Backend named by driver, or
// returns a nil backend (in-process memory only) when driver is empty or
// "none".
func openMemoryBackend(ctx context.Context, driver, dsn string) (persist.Backend, error) {
	switch driver {
	case "", "none":
		return nil, nil
	case "postgres":
		return persist.NewPostgres(ctx, dsn)
	case "sqlite":
		return persist.NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown backend driver %q", driver)
	}
}

// buildRoutingRules declares the operator-facing routing overrides: a
// security-sensitive task (tagged "security" or above a complexity
// threshold) always routes to the security auditor, regardless of its
// nominal task type.
func buildRoutingRules() (*scheduler.RuleSet, error) {
	rs, err := scheduler.NewRuleSet()
	if err != nil {
		return nil, fmt.Errorf("new rule set: %w", err)
	}
	if err := rs.AddRule(`"security" in tags || complexity >= 9`, registry.RoleSecurityAuditor); err != nil {
		return nil, fmt.Errorf("add security override rule: %w", err)
	}
	return rs, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
