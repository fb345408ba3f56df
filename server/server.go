// Package server exposes the orchestrator's external interfaces: goal
// decomposition, ready-task polling, task completion reporting, merge
// coordination, and project/budget/health status, plus a prometheus
// /metrics endpoint. A thin net/http wrapper around route registration,
// stdlib net/http + encoding/json rather than a generated RPC stack (see
// DESIGN.md for why).
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/budget"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/contextwindow"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/health"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/orchestrator"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
)

// Server is the HTTP transport surface over the orchestrator.
type Server struct {
	addr    string
	http    *http.Server
	orch    *orchestrator.Orchestrator
	budgets *budget.Manager
	ctxval  *contextwindow.Validator
	health  *health.Monitor
	logger  *slog.Logger
}

// New constructs a Server listening on ":8090", wiring every route against
// the supplied subsystems.
func New(orch *orchestrator.Orchestrator, budgets *budget.Manager, ctxval *contextwindow.Validator, healthMon *health.Monitor, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: ":8090", orch: orch, budgets: budgets, ctxval: ctxval, health: healthMon, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/goals", s.handleDecomposeGoal)
	mux.HandleFunc("GET /v1/tasks/ready", s.handleReadyTasks)
	mux.HandleFunc("POST /v1/tasks/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /v1/tasks/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/merge", s.handleMerge)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/budget", s.handleBudget)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/context/usage", s.handleContextUsage)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{Addr: s.addr, Handler: mux}
	return s
}

// Start begins serving and blocks until the listener stops (mirroring the
// teacher's server.Start(ctx) contract).
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type decomposeGoalRequest struct {
	Goal    string            `json:"goal"`
	Context map[string]string `json:"context"`
}

func (s *Server) handleDecomposeGoal(w http.ResponseWriter, r *http.Request) {
	var req decomposeGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tasks, err := s.orch.DecomposeGoal(r.Context(), req.Goal, req.Context)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks_added": len(tasks)})
}

func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	ready := s.orch.NextReady()
	out := make([]map[string]any, 0, len(ready))
	for _, t := range ready {
		out = append(out, map[string]any{
			"id": t.ID, "name": t.Name, "type": string(t.Type), "priority": int(t.Priority),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": out})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DispatchReady(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}

type completeTaskRequest struct {
	AgentID string              `json:"agent_id"`
	Result  taskgraph.Result    `json:"result"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req completeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.orch.MarkComplete(req.AgentID, taskID, &req.Result); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type mergeRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.orch.CoordinateMerge(r.Context(), req.Source, req.Target)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ProjectStatus())
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	project, agents := s.budgets.CostReport()
	writeJSON(w, http.StatusOK, map[string]any{"project": project, "agents": agents})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Status())
}

type contextUsageRequest struct {
	Messages []contextwindow.Message `json:"messages"`
}

func (s *Server) handleContextUsage(w http.ResponseWriter, r *http.Request) {
	var req contextUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.ctxval.GetUsageInfo(req.Messages, 0))
}
