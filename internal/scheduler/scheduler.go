// Package scheduler fires periodic runs for tasks that declare a cron
// schedule in the registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/mkalnins/sswatch/internal/runner"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
)

// taskRunner is the slice of the runner the scheduler needs.
type taskRunner interface {
	Run(ctx context.Context, taskName string, force bool) (*store.TaskRun, error)
}

// Scheduler owns a cron instance with one entry per scheduled task.
type Scheduler struct {
	registry *task.Registry
	runner   taskRunner
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a Scheduler. Call Start to register entries and begin.
func New(registry *task.Registry, r taskRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		runner:   r,
		cron:     cron.New(),
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start registers every scheduled target and starts the cron loop.
// A target with an invalid schedule fails Start rather than being
// silently skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, target := range s.registry.Scheduled() {
		name := target.Name
		_, err := s.cron.AddFunc(target.Schedule, func() {
			s.fire(ctx, name)
		})
		if err != nil {
			return fmt.Errorf("scheduling task %q (%q): %w", name, target.Schedule, err)
		}
		s.logger.Info("task scheduled",
			slog.String("task", name),
			slog.String("schedule", target.Schedule),
		)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and returns a context that is done once
// in-flight entries have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) fire(ctx context.Context, taskName string) {
	run, err := s.runner.Run(ctx, taskName, false)
	switch {
	case errors.Is(err, runner.ErrTaskAlreadyRunning):
		s.logger.Warn("scheduled run skipped, task busy", slog.String("task", taskName))
	case err != nil:
		s.logger.Error("scheduled run failed",
			slog.String("task", taskName),
			slog.Any("error", err),
		)
	default:
		s.logger.Info("scheduled run finished",
			slog.String("task", taskName),
			slog.String("run_id", run.ID),
			slog.String("outcome", string(run.Outcome)),
		)
	}
}
