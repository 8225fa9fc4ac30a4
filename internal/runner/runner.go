// Package runner drives a task through the scrape pipeline: fetch,
// extract, diff against the stored baseline, commit, report, notify.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkalnins/sswatch/internal/extract"
	"github.com/mkalnins/sswatch/internal/fetch"
	"github.com/mkalnins/sswatch/internal/listing"
	"github.com/mkalnins/sswatch/internal/notify"
	"github.com/mkalnins/sswatch/internal/report"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
)

// ErrTaskAlreadyRunning is returned when a run is requested for a task
// that has one in flight.
var ErrTaskAlreadyRunning = errors.New("task is already running")

// Pipeline stages, recorded on a run when it fails.
const (
	StageFetching   = "fetching"
	StageExtracting = "extracting"
	StageDiffing    = "diffing"
	StageCommitting = "committing"
	StageReporting  = "reporting"
	StageNotifying  = "notifying"
)

// Runner executes one run at a time per task.
type Runner struct {
	registry  *task.Registry
	fetcher   *fetch.Fetcher
	extractor *extract.Extractor
	store     *store.Service
	reports   *report.Builder
	notifier  *notify.Notifier
	logger    *slog.Logger

	runTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New wires a Runner from its pipeline components.
func New(registry *task.Registry, fetcher *fetch.Fetcher, extractor *extract.Extractor, st *store.Service, reports *report.Builder, notifier *notify.Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		registry:   registry,
		fetcher:    fetcher,
		extractor:  extractor,
		store:      st,
		reports:    reports,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "runner")),
		runTimeout: 10 * time.Minute,
		inFlight:   make(map[string]struct{}),
	}
}

// Start validates the task, claims its slot, and executes the run in
// the background. It returns the run id immediately.
func (r *Runner) Start(ctx context.Context, taskName string, force bool) (string, error) {
	target, err := r.registry.Get(taskName)
	if err != nil {
		return "", err
	}
	if !r.acquire(taskName) {
		return "", fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, taskName)
	}

	run := r.newRun(taskName)
	go func() {
		defer r.release(taskName)
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.runTimeout)
		defer cancel()
		if _, err := r.execute(runCtx, target, run, force); err != nil {
			r.logger.Error("run failed",
				slog.String("task", taskName),
				slog.String("run_id", run.ID),
				slog.Any("error", err),
			)
		}
	}()
	return run.ID, nil
}

// Run executes synchronously and returns the finished run row. The
// returned error reports pipeline failures before the snapshot commit;
// a delivery failure degrades the run instead of failing it.
func (r *Runner) Run(ctx context.Context, taskName string, force bool) (*store.TaskRun, error) {
	target, err := r.registry.Get(taskName)
	if err != nil {
		return nil, err
	}
	if !r.acquire(taskName) {
		return nil, fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, taskName)
	}
	defer r.release(taskName)

	return r.execute(ctx, target, r.newRun(taskName), force)
}

func (r *Runner) newRun(taskName string) *store.TaskRun {
	return &store.TaskRun{
		ID:        uuid.NewString(),
		TaskName:  taskName,
		StartedAt: time.Now().UTC(),
	}
}

func (r *Runner) acquire(taskName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[taskName]; busy {
		return false
	}
	r.inFlight[taskName] = struct{}{}
	return true
}

func (r *Runner) release(taskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, taskName)
}

func (r *Runner) execute(ctx context.Context, target task.Target, run *store.TaskRun, force bool) (*store.TaskRun, error) {
	logger := r.logger.With(
		slog.String("task", run.TaskName),
		slog.String("run_id", run.ID),
	)
	logger.Info("run started")

	pages, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		return run, r.fail(ctx, run, StageFetching, err)
	}

	records, err := r.extractor.Extract(target, pages)
	if err != nil {
		return run, r.fail(ctx, run, StageExtracting, err)
	}

	prev, err := r.store.LatestSnapshot(ctx, run.TaskName)
	if err != nil {
		return run, r.fail(ctx, run, StageDiffing, err)
	}
	diff := listing.ComputeDiff(prev, records)
	run.Added = len(diff.Added)
	run.Removed = len(diff.Removed)
	run.Changed = len(diff.Changed)
	run.Unchanged = diff.Unchanged
	if prev != nil {
		run.PrevRunID = prev.RunID
	}
	logger.Info("diff computed",
		slog.Int("added", run.Added),
		slog.Int("removed", run.Removed),
		slog.Int("changed", run.Changed),
		slog.Int("unchanged", run.Unchanged),
	)

	if err := r.store.CommitRun(ctx, run, records); err != nil {
		return run, r.fail(ctx, run, StageCommitting, err)
	}

	// The snapshot is committed from here on. Later failures degrade
	// the run to partial instead of failing it, so the next run diffs
	// against this baseline.
	artifact, err := r.reports.Build(run.TaskName, run.ID, diff)
	if err != nil {
		logger.Error("report build failed", slog.Any("error", err))
		return run, r.degrade(ctx, run, StageReporting, store.DeliverySkipped, err)
	}
	run.ReportPath = artifact.Path

	result, err := r.notifier.Notify(ctx, run.TaskName, target.Recipients, artifact, force)
	if err != nil {
		logger.Error("notification failed", slog.Any("error", err))
		return run, r.degrade(ctx, run, StageNotifying, store.DeliveryFailed, err)
	}

	run.Outcome = store.OutcomeSuccess
	run.DeliveryStatus = result.Status
	run.MessageID = result.MessageID
	run.FinishedAt = time.Now().UTC()
	if err := r.store.FinishRun(ctx, run); err != nil {
		return run, fmt.Errorf("finishing run: %w", err)
	}
	logger.Info("run finished", slog.String("delivery", run.DeliveryStatus))
	return run, nil
}

// fail records a pre-commit failure. No snapshot is written, so the
// previous baseline stays authoritative.
func (r *Runner) fail(ctx context.Context, run *store.TaskRun, stage string, cause error) error {
	run.Outcome = store.OutcomeFailure
	run.FailedStage = stage
	run.Error = cause.Error()
	run.FinishedAt = time.Now().UTC()
	if storeErr := r.store.RecordFailure(ctx, run); storeErr != nil {
		r.logger.Error("recording run failure",
			slog.String("run_id", run.ID),
			slog.Any("error", storeErr),
		)
	}
	return fmt.Errorf("%s: %w", stage, cause)
}

// degrade finishes a committed run as partial.
func (r *Runner) degrade(ctx context.Context, run *store.TaskRun, stage, deliveryStatus string, cause error) error {
	run.Outcome = store.OutcomePartial
	run.FailedStage = stage
	run.DeliveryStatus = deliveryStatus
	run.Error = cause.Error()
	run.FinishedAt = time.Now().UTC()
	if storeErr := r.store.FinishRun(ctx, run); storeErr != nil {
		r.logger.Error("finishing degraded run",
			slog.String("run_id", run.ID),
			slog.Any("error", storeErr),
		)
	}
	return fmt.Errorf("%s: %w", stage, cause)
}
