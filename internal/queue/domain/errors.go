package domain

import (
	"fmt"
	"time"

	"github.com/fieldops/resilience/internal/errors"
)

var (
	// ErrJobNotFound indicates no job exists with the given id.
	ErrJobNotFound = errors.Wrap(errors.ErrNotFound, "job not found")

	// ErrNotDeadLetter indicates an operator action on a job that is not dead-lettered.
	ErrNotDeadLetter = errors.Wrap(errors.ErrConflict, "job is not dead-lettered")

	// ErrJobStale indicates the job changed since it was read, e.g. it was reaped
	// and claimed by another worker.
	ErrJobStale = errors.Wrap(errors.ErrConflict, "job was modified concurrently")

	// ErrDuplicateActiveJob indicates an active job with the same idempotency key
	// already exists in the queue.
	ErrDuplicateActiveJob = errors.Wrap(errors.ErrConflict, "active job with idempotency key exists")

	// ErrUnknownQueue indicates a queue without a policy.
	ErrUnknownQueue = errors.Wrap(errors.ErrInvalidInput, "unknown queue")

	// ErrNoHandler indicates a job type without a registered handler.
	ErrNoHandler = errors.Wrap(errors.ErrPermanent, "no handler for job type")

	// ErrQueueFull indicates the queue rejected low priority work at capacity.
	ErrQueueFull = errors.Wrap(errors.ErrQueueOverflow, "queue is full")

	// ErrInvalidTransition indicates a lifecycle change that is not allowed.
	ErrInvalidTransition = errors.Wrap(errors.ErrConflict, "invalid job status transition")
)

func newTransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// DeferError asks the worker to return the job to pending at Until without
// spending an attempt.
type DeferError struct {
	Until  time.Time
	Reason string
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("deferred until %s: %s", e.Until.Format(time.RFC3339), e.Reason)
}

// Defer builds a DeferError.
func Defer(until time.Time, reason string) error {
	return &DeferError{Until: until, Reason: reason}
}

// AsDefer extracts a DeferError from err.
func AsDefer(err error) (*DeferError, bool) {
	var d *DeferError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
