// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by use cases
// and mapped to appropriate HTTP status codes by handlers.
//
// External failures are classified as transient (retryable, counted by the circuit
// breaker) or permanent (never retried). Use Transient and Permanent at the boundary
// where a provider response is interpreted.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors that can be used across all domain modules.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the authenticated user doesn't have permission.
	ErrForbidden = errors.New("forbidden")
)

// Failure taxonomy for calls to external services and shared state.
var (
	// ErrTransient marks a failure that may succeed later (timeout, 5xx, rate limit, network).
	ErrTransient = errors.New("transient external error")

	// ErrPermanent marks a failure that will never succeed on retry (validation rejection, 4xx).
	ErrPermanent = errors.New("permanent external error")

	// ErrLockTimeout indicates another caller holds the idempotency lock for a key
	// and did not finish within the wait budget.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrQueueOverflow indicates the queue is at capacity for the submitted priority.
	ErrQueueOverflow = errors.New("queue overflow")

	// ErrSyncConflict indicates divergent local and server state that needs resolution.
	ErrSyncConflict = errors.New("sync conflict")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is like Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// classified attaches a taxonomy sentinel to an underlying cause. Both remain
// reachable through errors.Is.
type classified struct {
	class error
	cause error
}

func (c *classified) Error() string {
	if c.cause == nil {
		return c.class.Error()
	}
	return fmt.Sprintf("%s: %s", c.class.Error(), c.cause.Error())
}

func (c *classified) Unwrap() []error {
	if c.cause == nil {
		return []error{c.class}
	}
	return []error{c.class, c.cause}
}

// Transient classifies err as retryable. Returns nil for a nil error and leaves an
// already classified error untouched.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	return &classified{class: ErrTransient, cause: err}
}

// Permanent classifies err as non-retryable. Returns nil for a nil error and leaves
// an already classified error untouched.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	return &classified{class: ErrPermanent, cause: err}
}

// IsTransient reports whether err was classified as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err was classified as permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
