package task

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry when its backing file changes. It blocks
// until ctx is canceled. Editors typically write via rename, so the
// parent directory is watched and events are debounced.
func (r *Registry) Watch(ctx context.Context, logger *slog.Logger) {
	logger = logger.With(slog.String("component", "task-registry"))

	if r.path == "" {
		logger.Warn("registry has no backing file, watch disabled")
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, registry hot reload disabled", "error", err)
		return
	}
	defer w.Close() //nolint:errcheck

	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watching registry directory failed", "dir", dir, "error", err)
		return
	}

	base := filepath.Base(r.path)
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	reloadPending := false

	logger.Info("watching task registry", slog.String("path", r.path))

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(500 * time.Millisecond)
			reloadPending = true

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("fsnotify error", "error", err)

		case <-debounce.C:
			if !reloadPending {
				continue
			}
			reloadPending = false
			if err := r.Reload(); err != nil {
				// Keep serving the last good registry.
				logger.Error("registry reload failed", "error", err)
				continue
			}
			logger.Info("task registry reloaded", slog.Int("tasks", len(r.Names())))
		}
	}
}
