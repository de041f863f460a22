package jobqueue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job. The state machine is forward
// only: queued -> processing -> completed or failed. There is no transition
// back to queued; requeue policy belongs to the orchestrator.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the durable record of a unit of deferred work. It outlives queue
// membership: dequeuing removes the id from the priority index while this
// record persists and is updated in place.
type Job struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int64           `json:"priority"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}
