// Package domain defines queued jobs, their lifecycle and retry policy.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
	StatusDiscarded  Status = "discarded"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusDeadLetter,
	StatusDiscarded,
}

// Active reports whether a job in status s still counts towards queue capacity
// and idempotency key dedupe.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Transition is an allowed status change.
type Transition struct {
	From Status
	To   Status
}

// ValidTransitions is the complete job lifecycle. Completed, failed and discarded
// are terminal; dead_letter only leaves through an operator action.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusPending, To: StatusDeadLetter},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusProcessing, To: StatusPending},
	{From: StatusProcessing, To: StatusDeadLetter},
	{From: StatusDeadLetter, To: StatusPending},
	{From: StatusDeadLetter, To: StatusDiscarded},
}

// IsValidTransition reports whether from -> to is part of the lifecycle.
func IsValidTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Dead letter reasons stored in LastError.
const (
	ReasonOverflow = "overflow"
)

// Job is a unit of deferred work against an external service.
type Job struct {
	ID             uuid.UUID
	QueueName      string
	JobType        string
	Service        string
	IdempotencyKey string
	Payload        []byte
	Priority       int
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	Status         Status
	LastError      *string
	LockedBy       *string
	LockedAt       *time.Time
	DeadLetteredAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnqueueInput describes work submitted to a queue.
type EnqueueInput struct {
	Queue          string
	JobType        string
	Service        string
	IdempotencyKey string
	Payload        []byte
	Priority       int
	// MaxAttempts overrides the queue policy when positive.
	MaxAttempts int
	// RunAt delays the first attempt when set.
	RunAt *time.Time
}

// StatusCounts is the number of jobs of a queue per status.
type StatusCounts struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	DeadLetter int64  `json:"dead_letter"`
	Discarded  int64  `json:"discarded"`
}

// Set stores n under status.
func (c *StatusCounts) Set(status Status, n int64) {
	switch status {
	case StatusPending:
		c.Pending = n
	case StatusProcessing:
		c.Processing = n
	case StatusCompleted:
		c.Completed = n
	case StatusFailed:
		c.Failed = n
	case StatusDeadLetter:
		c.DeadLetter = n
	case StatusDiscarded:
		c.Discarded = n
	}
}

// Get returns the count for status.
func (c StatusCounts) Get(status Status) int64 {
	switch status {
	case StatusPending:
		return c.Pending
	case StatusProcessing:
		return c.Processing
	case StatusCompleted:
		return c.Completed
	case StatusFailed:
		return c.Failed
	case StatusDeadLetter:
		return c.DeadLetter
	case StatusDiscarded:
		return c.Discarded
	}
	return 0
}

func (j *Job) moveTo(to Status, now time.Time) error {
	if !IsValidTransition(j.Status, to) {
		return newTransitionError(j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

func (j *Job) unlock() {
	j.LockedBy = nil
	j.LockedAt = nil
}

func (j *Job) setError(err error) {
	if err == nil {
		j.LastError = nil
		return
	}
	msg := err.Error()
	j.LastError = &msg
}

// Claim marks the job as taken by worker.
func (j *Job) Claim(worker string, now time.Time) error {
	if err := j.moveTo(StatusProcessing, now); err != nil {
		return err
	}
	j.LockedBy = &worker
	j.LockedAt = &now
	return nil
}

// Complete marks a successful run.
func (j *Job) Complete(now time.Time) error {
	if err := j.moveTo(StatusCompleted, now); err != nil {
		return err
	}
	j.unlock()
	j.setError(nil)
	return nil
}

// Fail marks a permanent failure. The job is never retried automatically.
func (j *Job) Fail(cause error, now time.Time) error {
	if err := j.moveTo(StatusFailed, now); err != nil {
		return err
	}
	j.unlock()
	j.setError(cause)
	return nil
}

// Defer returns the job to pending at until without spending an attempt.
func (j *Job) Defer(until, now time.Time) error {
	if err := j.moveTo(StatusPending, now); err != nil {
		return err
	}
	j.unlock()
	j.NextAttemptAt = until
	return nil
}

// Retry records a transient failure. The job is rescheduled with backoff, or
// dead-lettered once MaxAttempts is reached. It reports whether the job was
// dead-lettered.
func (j *Job) Retry(cause error, backoff BackoffPolicy, now time.Time) (bool, error) {
	attempts := j.Attempts + 1
	if attempts >= j.MaxAttempts {
		if err := j.moveTo(StatusDeadLetter, now); err != nil {
			return false, err
		}
		j.Attempts = attempts
		j.unlock()
		j.setError(cause)
		j.DeadLetteredAt = &now
		return true, nil
	}

	if err := j.moveTo(StatusPending, now); err != nil {
		return false, err
	}
	j.Attempts = attempts
	j.unlock()
	j.setError(cause)
	j.NextAttemptAt = now.Add(backoff.Delay(attempts))
	return false, nil
}

// DropForOverflow dead-letters a pending job to make room in a full queue.
func (j *Job) DropForOverflow(now time.Time) error {
	if err := j.moveTo(StatusDeadLetter, now); err != nil {
		return err
	}
	reason := ReasonOverflow
	j.LastError = &reason
	j.DeadLetteredAt = &now
	return nil
}

// Release returns a claimed job to pending without spending an attempt.
func (j *Job) Release(now time.Time) error {
	if err := j.moveTo(StatusPending, now); err != nil {
		return err
	}
	j.unlock()
	return nil
}

// Requeue is the operator retry of a dead letter: attempts reset, due now.
func (j *Job) Requeue(now time.Time) error {
	if err := j.moveTo(StatusPending, now); err != nil {
		return err
	}
	j.Attempts = 0
	j.NextAttemptAt = now
	j.DeadLetteredAt = nil
	return nil
}

// Discard is the operator discard of a dead letter. The row is retained.
func (j *Job) Discard(now time.Time) error {
	return j.moveTo(StatusDiscarded, now)
}
