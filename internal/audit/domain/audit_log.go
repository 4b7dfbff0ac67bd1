// Package domain defines the operator audit trail entities.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/resilience/internal/errors"
)

// Action identifies an operator action that changed resilience state.
type Action string

const (
	ActionHealthOverrideSet   Action = "health.override.set"
	ActionHealthOverrideClear Action = "health.override.clear"
	ActionDeadLetterRetry     Action = "queue.dead_letter.retry"
	ActionDeadLetterDiscard   Action = "queue.dead_letter.discard"
	ActionAuditPurge          Action = "audit.purge"
)

// AuditLog records who forced a health state or acted on a dead letter, and why.
type AuditLog struct {
	ID        uuid.UUID
	RequestID string
	Actor     string
	Action    Action
	Resource  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ErrAuditLogNotFound indicates an audit log with the specified ID was not found.
var ErrAuditLogNotFound = errors.Wrap(errors.ErrNotFound, "audit log not found")

type requestIDKey struct{}

// WithRequestID stores the HTTP request id so audit entries can be correlated with logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
