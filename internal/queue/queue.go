package queue

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// ErrLeaseLost means the job was re-queued or finished by someone else after it was leased.
var ErrLeaseLost = errors.New("job lease lost")

// JobState is the lifecycle position of a job inside the queue.
type JobState string

const (
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

func (s JobState) String() string { return string(s) }

// Job is a leased reminder job handed to a worker.
type Job struct {
	ID          string
	Payload     domain.ReminderPayload
	Attempt     int
	MaxAttempts int
	RunAt       time.Time
	LeaseToken  string
	LeaseUntil  time.Time
}

// FinalAttempt reports whether a failure of this attempt is terminal.
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// JobInfo is a read-only snapshot of a stored job.
type JobInfo struct {
	ID          string
	State       JobState
	Payload     domain.ReminderPayload
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// FailResult reports what the queue did with a failed attempt.
type FailResult struct {
	Retrying  bool
	NextRunAt time.Time
}

// RequeueResult summarizes a stalled-lease sweep.
type RequeueResult struct {
	Requeued     int
	FailedJobIDs []string
}

// Counts is the number of jobs per state.
type Counts struct {
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}

// JobQueue is a durable delayed queue with per-id deduplication and bounded retries.
type JobQueue interface {
	// Add enqueues a job visible after delay. It returns false when a job with
	// the same id already exists; the existing job is left untouched.
	Add(ctx context.Context, jobID string, payload domain.ReminderPayload, delay time.Duration) (bool, error)
	// Lease claims the earliest ready job, or returns nil when none is ready.
	Lease(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job, cause error) (FailResult, error)
	RequeueExpired(ctx context.Context, limit int) (RequeueResult, error)
	Get(ctx context.Context, jobID string) (*JobInfo, error)
	Counts(ctx context.Context) (Counts, error)
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryPolicy is exponential backoff with a fixed attempt cap.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Delay returns the backoff after the given failed attempt: base, 2*base, 4*base...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}
