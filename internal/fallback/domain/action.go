// Package domain defines the actions dispatched through the fallback router and the
// outcomes reported back to callers.
package domain

import (
	"context"

	"github.com/google/uuid"
)

// Operation is a side-effecting call to an external service. Errors should be
// classified with errors.Transient or errors.Permanent; unclassified errors are
// treated as transient.
type Operation func(ctx context.Context, payload []byte) ([]byte, error)

// Fallback produces a degraded but useful result while the real operation is
// deferred, for example a draft invoice or a message on a backup channel.
type Fallback func(ctx context.Context, payload []byte) ([]byte, error)

// Action is one request to perform an operation of kind against service.
type Action struct {
	Service string
	Kind    string
	Payload []byte
	// IdempotencyKey identifies the logical operation across retries. A key of the
	// form "<kind>:<uuid>" is generated when empty.
	IdempotencyKey string
	Priority       int
}

// OutcomeStatus tells the caller what happened to the action.
type OutcomeStatus string

const (
	// OutcomeCompleted means the real operation ran (or was replayed) successfully.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeFallback means the fallback ran and the real operation was queued.
	OutcomeFallback OutcomeStatus = "fallback"
	// OutcomeAccepted means the real operation was queued for asynchronous retry.
	OutcomeAccepted OutcomeStatus = "accepted"
)

// Outcome is the user-facing result of Perform.
type Outcome struct {
	Status         OutcomeStatus
	IdempotencyKey string
	Result         []byte
	Replayed       bool
	FallbackResult []byte
	JobID          *uuid.UUID
	ServiceState   string
}

type idempotencyKeyCtxKey struct{}

// WithIdempotencyKey returns a context carrying key so operations can forward it to
// the provider.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtxKey{}, key)
}

// IdempotencyKeyFromContext returns the key set by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtxKey{}).(string)
	return key, ok && key != ""
}
