// Package jobqueue implements a priority-ordered job queue with lifecycle
// tracking on the shared keyed store. Unlike the best-effort coordination
// primitives, submission errors surface to the caller: silently losing a
// job is a correctness violation, not a degradation.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Queue struct {
	store     *store.Client
	logger    appLogger.Logger
	keyPrefix string
	now       func() time.Time
}

type Option func(*Queue)

// WithClock overrides the time source used for lifecycle stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func New(client *store.Client, cfg config.JobQueue, logger appLogger.Logger, opts ...Option) *Queue {
	queue := &Queue{
		store:     client,
		logger:    logger.WithComponent("jobqueue"),
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(queue)
	}

	return queue
}

// Enqueue creates a queued job record and adds it to the priority index,
// scored by priority. Lower priority values are served first. Store errors
// propagate — the caller must know when a job was not accepted.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, priority int64) (string, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling job payload: %w", err)
	}

	job := Job{
		ID:        uuid.NewString(),
		Payload:   rawPayload,
		Priority:  priority,
		Status:    StatusQueued,
		CreatedAt: q.now().UTC(),
	}

	// Record first, index second: the index must never reference a job
	// that has no record yet.
	if err := q.writeRecord(ctx, queueName, &job); err != nil {
		return "", err
	}

	if err := q.store.ZAdd(ctx, q.indexKey(queueName), float64(priority), job.ID); err != nil {
		return "", fmt.Errorf("indexing job %s: %w", job.ID, err)
	}

	q.logger.Debug().
		Str("queue", queueName).
		Str("job_id", job.ID).
		Int64("priority", priority).
		Msg("job enqueued")

	return job.ID, nil
}

// Dequeue pops the most urgent queued job, marks it processing, and returns
// it. A nil job means the queue is empty.
//
// The pop and the status update are two separate store operations; a crash
// between them leaves the record queued while absent from the index. That
// window is accepted here — reconciliation belongs to the orchestrator.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	jobID, ok, err := q.store.ZPopMin(ctx, q.indexKey(queueName))
	if err != nil {
		return nil, fmt.Errorf("popping job index: %w", err)
	}

	if !ok {
		return nil, nil
	}

	job, err := q.readRecord(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}

	if job == nil {
		q.logger.Warn().
			Str("queue", queueName).
			Str("job_id", jobID).
			Msg("dequeued id has no job record")

		return nil, nil
	}

	startedAt := q.now().UTC()
	job.Status = StatusProcessing
	job.StartedAt = &startedAt

	if err := q.writeRecord(ctx, queueName, job); err != nil {
		return nil, err
	}

	return job, nil
}

// Complete merges the completed status, timestamp, and result into the job
// record. No-op when the record is missing.
func (q *Queue) Complete(ctx context.Context, queueName, jobID string, result any) error {
	job, err := q.readRecord(ctx, queueName, jobID)
	if err != nil || job == nil {
		return err
	}

	rawResult, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling job result: %w", err)
	}

	completedAt := q.now().UTC()
	job.Status = StatusCompleted
	job.CompletedAt = &completedAt
	job.Result = rawResult

	return q.writeRecord(ctx, queueName, job)
}

// Fail merges the failed status, timestamp, and error message into the job
// record. No-op when the record is missing.
func (q *Queue) Fail(ctx context.Context, queueName, jobID, errMsg string) error {
	job, err := q.readRecord(ctx, queueName, jobID)
	if err != nil || job == nil {
		return err
	}

	failedAt := q.now().UTC()
	job.Status = StatusFailed
	job.FailedAt = &failedAt
	job.Error = errMsg

	return q.writeRecord(ctx, queueName, job)
}

// Get returns the durable job record, or nil when it does not exist.
func (q *Queue) Get(ctx context.Context, queueName, jobID string) (*Job, error) {
	return q.readRecord(ctx, queueName, jobID)
}

func (q *Queue) readRecord(ctx context.Context, queueName, jobID string) (*Job, error) {
	data, err := q.store.HGet(ctx, q.recordsKey(queueName), jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading job record %s: %w", jobID, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshalling job record %s: %w", jobID, err)
	}

	return &job, nil
}

func (q *Queue) writeRecord(ctx context.Context, queueName string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshalling job record %s: %w", job.ID, err)
	}

	if err := q.store.HSet(ctx, q.recordsKey(queueName), job.ID, data); err != nil {
		return fmt.Errorf("writing job record %s: %w", job.ID, err)
	}

	return nil
}

func (q *Queue) indexKey(queueName string) string {
	return fmt.Sprintf("%s:%s", q.keyPrefix, queueName)
}

func (q *Queue) recordsKey(queueName string) string {
	return fmt.Sprintf("%s:%s:jobs", q.keyPrefix, queueName)
}
