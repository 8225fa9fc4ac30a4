package store

import "time"

// Outcome classifies a finished task run.
type Outcome string

// Run outcomes. A partial run committed its snapshot but failed to
// deliver the notification.
const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Delivery statuses recorded on a run.
const (
	DeliverySent       = "sent"
	DeliverySuppressed = "suppressed"
	DeliveryFailed     = "failed"
	DeliverySkipped    = "skipped"
)

// TaskRun is one execution of the pipeline for a task.
type TaskRun struct {
	ID          string    `json:"id"`
	TaskName    string    `json:"task_name"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Outcome     Outcome   `json:"outcome"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Added       int       `json:"added"`
	Removed     int       `json:"removed"`
	Changed     int       `json:"changed"`
	Unchanged   int       `json:"unchanged"`
	// HasSnapshot is true when the run committed a snapshot; failed
	// runs never advance the baseline.
	HasSnapshot bool   `json:"has_snapshot"`
	PrevRunID   string `json:"prev_run_id,omitempty"`
	ReportPath  string `json:"report_path,omitempty"`
	// DeliveryStatus records the notification attempt: sent,
	// suppressed, failed, or skipped.
	DeliveryStatus string `json:"delivery_status,omitempty"`
	// MessageID is the mail provider's identifier for a sent message.
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Task is the persisted per-task summary row.
type Task struct {
	Name       string    `json:"name"`
	LastRunAt  time.Time `json:"last_run_at"`
	LastStatus Outcome   `json:"last_status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
