package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/broker"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/budget"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/contextwindow"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/health"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/merge"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/orchestrator"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/registry"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/scheduler"
	"github.com/mohitmishra786/aurora-dev-sub001/internal/taskgraph"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/planner"
)

type fakePlanner struct {
	tasks []planner.ProposedTask
	err   error
}

func (f *fakePlanner) DecomposeGoal(ctx context.Context, goal string, goalContext map[string]string) ([]planner.ProposedTask, error) {
	return f.tasks, f.err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	br := broker.New()
	sched := scheduler.New(reg, br)
	graph := taskgraph.NewGraph()
	merger := merge.New(t.TempDir())
	pl := &fakePlanner{tasks: []planner.ProposedTask{
		{ID: "design", Name: "design api", Type: string(taskgraph.TaskTypeDesign), Priority: 8},
	}}
	orch := orchestrator.New(graph, sched, reg, br, nil, merger, pl, nil)

	budgets := budget.New(0, 0)
	ctxval := contextwindow.New("gpt-4o", 0)
	healthMon := health.New(0, 0, 0)

	return New(orch, budgets, ctxval, healthMon, prometheus.NewRegistry(), nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	return w
}

func TestHandleDecomposeGoal(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/v1/goals", decomposeGoalRequest{Goal: "build an API"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["tasks_added"])
}

func TestHandleDecomposeGoal_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/goals", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReadyTasksAndDispatch(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/v1/goals", decomposeGoalRequest{Goal: "build an API"})

	w := doRequest(t, s, http.MethodGet, "/v1/tasks/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ready map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	require.Len(t, ready["ready"], 1)

	w = doRequest(t, s, http.MethodPost, "/v1/tasks/dispatch", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleComplete_UnknownTaskNotFound(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/v1/tasks/missing/complete", completeTaskRequest{
		AgentID: "worker-1",
		Result:  taskgraph.Result{Success: true},
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMerge_UnknownWorktreeConflict(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/v1/merge", mergeRequest{Source: "agent-1", Target: "main"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleBudget(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/v1/budget", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp, "project")
	require.Contains(t, resp, "agents")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleContextUsage(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/v1/context/usage", contextUsageRequest{
		Messages: []contextwindow.Message{{Role: "user", Content: "hello there"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var info contextwindow.UsageInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Positive(t, info.EstimatedPromptTokens)
}

func TestHandleContextUsage_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/context/usage", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
