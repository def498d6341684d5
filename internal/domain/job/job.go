package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue names the three durable work queues.
type Queue string

const (
	QueueNotifications Queue = "notifications"
	QueueEmail         Queue = "email"
	QueueCleanup       Queue = "cleanup"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusDead    Status = "DEAD"
)

const (
	DefaultMaxAttempts = 3
	backoffBase        = 2000 * time.Millisecond

	// DefaultClaimLease bounds how long a RUNNING claim stays valid. A claim
	// older than this belongs to a worker that crashed mid-job; ClaimDue
	// recovers it instead of leaving it stranded.
	DefaultClaimLease = 5 * time.Minute
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// Job is one unit of durable background work. Failed jobs are re-enqueued
// with exponential backoff until MaxAttempts, then parked DEAD on the
// operator-visible failed list; they are never silently dropped.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Queue       Queue           `json:"queue"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Status      Status          `json:"status"`
	RunAt       time.Time       `json:"runAt"`
	LastError   *string         `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// New creates a pending job due immediately.
func New(queue Queue, kind string, payload json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Queue:       queue,
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		Status:      StatusPending,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Backoff returns the delay before retry attempt n (1-based): base 2s,
// doubling per attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoffBase * time.Duration(1<<(attempt-1))
}

// MarkRunning transitions a claimed job to RUNNING and counts the attempt.
func (j *Job) MarkRunning() error {
	if j.Status != StatusPending {
		return ErrInvalidTransition
	}
	j.Status = StatusRunning
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDone finishes a running job.
func (j *Job) MarkDone() error {
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusDone
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records the error and either schedules a retry with backoff or,
// once attempts are exhausted, parks the job DEAD. Returns true when the job
// will be retried.
func (j *Job) MarkFailed(errMsg string) (retry bool, err error) {
	if j.Status != StatusRunning {
		return false, ErrInvalidTransition
	}
	now := time.Now().UTC()
	j.LastError = &errMsg
	j.UpdatedAt = now
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDead
		return false, nil
	}
	j.Status = StatusPending
	j.RunAt = now.Add(Backoff(j.Attempts))
	return true, nil
}

// Recover returns an orphaned RUNNING job to the queue: back to PENDING and
// due immediately when attempts remain, otherwise parked DEAD so the failure
// stays visible on the operator list.
func (j *Job) Recover(reason string) error {
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	j.LastError = &reason
	j.UpdatedAt = now
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDead
		return nil
	}
	j.Status = StatusPending
	j.RunAt = now
	return nil
}

// Repository is durable storage for the job queues.
type Repository interface {
	Enqueue(ctx context.Context, j *Job) error
	// ClaimDue atomically claims up to limit due pending jobs on queue,
	// marking them RUNNING with the attempt counted. RUNNING rows whose
	// claim lease has lapsed are recovered first (see Recover).
	ClaimDue(ctx context.Context, queue Queue, now time.Time, limit int) ([]*Job, error)
	Update(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	ListDead(ctx context.Context, limit, offset int) ([]*Job, error)
	DeleteDone(ctx context.Context, cutoff time.Time) (int64, error)
}
