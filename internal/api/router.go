// Package api exposes the HTTP trigger and inspection endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mkalnins/sswatch/internal/api/middleware"
	"github.com/mkalnins/sswatch/internal/runner"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Runner   *runner.Runner
	Store    *store.Service
	Registry *task.Registry
	Logger   *slog.Logger
}

// Router sets up all HTTP routes for the application.
type Router struct {
	runner   *runner.Runner
	store    *store.Service
	registry *task.Registry
	logger   *slog.Logger
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		runner:   deps.Runner,
		store:    deps.Store,
		registry: deps.Registry,
		logger:   deps.Logger,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	trigger := middleware.NewTriggerRateLimiter(2*time.Second, 5)

	mux.HandleFunc("GET /api/v1/health", r.handleHealth)
	runTask := trigger.Middleware(http.HandlerFunc(r.handleRunTask))
	mux.Handle("POST /api/v1/run-task/{name}", runTask)
	mux.Handle("GET /api/v1/run-task/{name}", runTask)
	mux.HandleFunc("GET /api/v1/tasks", r.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{name}/runs", r.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", r.handleGetRun)

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}
