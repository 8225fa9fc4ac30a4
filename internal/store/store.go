// Package store persists task run history and listing snapshots.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalnins/sswatch/internal/listing"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// ErrTaskNotFound is returned when a task name has no row.
var ErrTaskNotFound = errors.New("task not found")

// Service provides durable storage for tasks, runs, and snapshots.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewService creates a store service.
func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With(slog.String("component", "store")),
	}
}

// LatestSnapshot returns the most recent committed snapshot for a task,
// or nil when the task has never committed one (first run).
func (s *Service) LatestSnapshot(ctx context.Context, taskName string) (*listing.Snapshot, error) {
	var runID, takenAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at FROM task_runs
		WHERE task_name = ? AND has_snapshot = 1
		ORDER BY started_at DESC, id DESC LIMIT 1
	`, taskName).Scan(&runID, &takenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot for %q: %w", taskName, err)
	}

	records, err := s.loadSnapshotRecords(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &listing.Snapshot{
		TaskName: taskName,
		RunID:    runID,
		TakenAt:  parseTime(takenAt),
		Records:  records,
	}, nil
}

func (s *Service) loadSnapshotRecords(ctx context.Context, runID string) ([]listing.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, title, price_cents, currency, location, posted_at, url, content_hash
		FROM listings WHERE run_id = ? ORDER BY external_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", runID, err)
	}
	defer rows.Close() //nolint:errcheck

	var records []listing.Record
	for rows.Next() {
		var r listing.Record
		var postedAt string
		if err := rows.Scan(&r.ExternalID, &r.Title, &r.PriceCents, &r.Currency,
			&r.Location, &postedAt, &r.URL, &r.ContentHash); err != nil {
			return nil, fmt.Errorf("scanning listing row: %w", err)
		}
		if postedAt != "" {
			r.PostedAt = parseTime(postedAt)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CommitRun durably writes a run row together with its snapshot in one
// transaction: either both land or neither does, so a reported diff is
// always backed by an advanced baseline.
func (s *Service) CommitRun(ctx context.Context, run *TaskRun, records []listing.Record) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	run.HasSnapshot = true
	// A crash before FinishRun must not leave the row unclassified:
	// the snapshot is durable, so the worst truthful reading is a
	// partial run whose delivery never happened.
	if run.Outcome == "" {
		run.Outcome = OutcomePartial
	}
	if run.DeliveryStatus == "" {
		run.DeliveryStatus = DeliverySkipped
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}

	for i := range records {
		r := &records[i]
		postedAt := ""
		if !r.PostedAt.IsZero() {
			postedAt = r.PostedAt.UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listings (run_id, task_name, external_id, title, price_cents,
				currency, location, posted_at, url, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.TaskName, r.ExternalID, r.Title, r.PriceCents,
			r.Currency, r.Location, postedAt, r.URL, r.ContentHash); err != nil {
			return fmt.Errorf("inserting listing %q: %w", r.ExternalID, err)
		}
	}

	if err := upsertTask(ctx, tx, run); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %q: %w", run.ID, err)
	}

	s.logger.Debug("run committed",
		slog.String("task", run.TaskName),
		slog.String("run_id", run.ID),
		slog.Int("snapshot_size", len(records)),
	)
	return nil
}

// RecordFailure writes a failed run row. No snapshot is written, so the
// task's baseline is untouched.
func (s *Service) RecordFailure(ctx context.Context, run *TaskRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	run.Outcome = OutcomeFailure
	run.HasSnapshot = false

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning failure transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}
	if err := upsertTask(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishRun updates a committed run's final outcome and delivery detail
// once reporting and notification have resolved.
func (s *Service) FinishRun(ctx context.Context, run *TaskRun) error {
	finishedAt := ""
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET finished_at = ?, outcome = ?, failed_stage = ?,
			report_path = ?, delivery_status = ?, message_id = ?, error = ?
		WHERE id = ?
	`, finishedAt, string(run.Outcome), run.FailedStage,
		run.ReportPath, run.DeliveryStatus, run.MessageID, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finishing run %q: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %q: %w", run.ID, ErrRunNotFound)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET last_status = ?, updated_at = ? WHERE name = ?
	`, string(run.Outcome), time.Now().UTC().Format(time.RFC3339), run.TaskName)
	if err != nil {
		return fmt.Errorf("updating task status for %q: %w", run.TaskName, err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Service) GetRun(ctx context.Context, id string) (*TaskRun, error) {
	row := s.db.QueryRowContext(ctx, selectRunColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %q: %w", id, err)
	}
	return run, nil
}

// ListRuns returns a task's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, taskName string, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectRunColumns+` WHERE task_name = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs for %q: %w", taskName, err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetTask returns one persisted task row by name. Tasks removed from
// the registry keep their row and run history.
func (s *Service) GetTask(ctx context.Context, name string) (*Task, error) {
	var t Task
	var lastRunAt, createdAt, updatedAt, lastStatus string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, last_run_at, last_status, created_at, updated_at
		FROM tasks WHERE name = ?
	`, name).Scan(&t.Name, &lastRunAt, &lastStatus, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %q: %w", name, err)
	}
	t.LastRunAt = parseTime(lastRunAt)
	t.LastStatus = Outcome(lastStatus)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// ListTasks returns all known tasks ordered by name.
func (s *Service) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_run_at, last_status, created_at, updated_at
		FROM tasks ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tasks []Task
	for rows.Next() {
		var t Task
		var lastRunAt, createdAt, updatedAt string
		var lastStatus string
		if err := rows.Scan(&t.Name, &lastRunAt, &lastStatus, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		t.LastRunAt = parseTime(lastRunAt)
		t.LastStatus = Outcome(lastStatus)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const selectRunColumns = `
	SELECT id, task_name, started_at, finished_at, outcome, failed_stage,
		added, removed, changed, unchanged, has_snapshot, prev_run_id,
		report_path, delivery_status, message_id, error
	FROM task_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*TaskRun, error) {
	var run TaskRun
	var startedAt string
	var finishedAt sql.NullString
	var outcome string
	var hasSnapshot int
	if err := row.Scan(&run.ID, &run.TaskName, &startedAt, &finishedAt, &outcome,
		&run.FailedStage, &run.Added, &run.Removed, &run.Changed, &run.Unchanged,
		&hasSnapshot, &run.PrevRunID, &run.ReportPath, &run.DeliveryStatus,
		&run.MessageID, &run.Error); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid && finishedAt.String != "" {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	run.Outcome = Outcome(outcome)
	run.HasSnapshot = hasSnapshot == 1
	return &run, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run *TaskRun) error {
	finishedAt := ""
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	hasSnapshot := 0
	if run.HasSnapshot {
		hasSnapshot = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_name, started_at, finished_at, outcome,
			failed_stage, added, removed, changed, unchanged, has_snapshot,
			prev_run_id, report_path, delivery_status, message_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskName, run.StartedAt.UTC().Format(time.RFC3339), finishedAt,
		string(run.Outcome), run.FailedStage, run.Added, run.Removed, run.Changed,
		run.Unchanged, hasSnapshot, run.PrevRunID, run.ReportPath,
		run.DeliveryStatus, run.MessageID, run.Error)
	if err != nil {
		return fmt.Errorf("inserting run %q: %w", run.ID, err)
	}
	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, run *TaskRun) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (name, last_run_at, last_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_status = excluded.last_status,
			updated_at = excluded.updated_at
	`, run.TaskName, run.StartedAt.UTC().Format(time.RFC3339), string(run.Outcome), now, now)
	if err != nil {
		return fmt.Errorf("upserting task %q: %w", run.TaskName, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
