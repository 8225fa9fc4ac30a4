package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/mkalnins/sswatch/internal/runner"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
	"github.com/mkalnins/sswatch/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRunTask triggers a run and returns its id without waiting for
// the pipeline to finish. `?force=true` delivers even an empty diff.
func (r *Router) handleRunTask(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	force := req.URL.Query().Get("force") == "true"

	runID, err := r.runner.Start(req.Context(), name, force)
	switch {
	case errors.Is(err, task.ErrUnknownTask):
		writeError(w, http.StatusNotFound, "unknown task")
		return
	case errors.Is(err, runner.ErrTaskAlreadyRunning):
		writeError(w, http.StatusConflict, "task is already running")
		return
	case err != nil:
		r.logger.Error("starting run", "task", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"task":   name,
	})
}

func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	run, err := r.store.GetRun(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		r.logger.Error("loading run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if _, err := r.registry.Get(name); err != nil {
		// Tasks dropped from the registry keep their audit rows.
		if _, storeErr := r.store.GetTask(req.Context(), name); storeErr != nil {
			if errors.Is(storeErr, store.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "unknown task")
				return
			}
			r.logger.Error("loading task", "task", name, "error", storeErr)
			writeError(w, http.StatusInternalServerError, "failed to load task")
			return
		}
	}

	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := r.store.ListRuns(req.Context(), name, limit)
	if err != nil {
		r.logger.Error("listing runs", "task", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.TaskRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task": name,
		"runs": runs,
	})
}

func (r *Router) handleListTasks(w http.ResponseWriter, req *http.Request) {
	tasks, err := r.store.ListTasks(req.Context())
	if err != nil {
		r.logger.Error("listing tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	known := make(map[string]bool)
	for _, t := range tasks {
		known[t.Name] = true
	}
	// Registered tasks that have never run still show up, without a
	// last status.
	for _, name := range r.registry.Names() {
		if !known[name] {
			tasks = append(tasks, store.Task{Name: name})
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
