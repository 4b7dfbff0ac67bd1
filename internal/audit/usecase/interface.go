// Package usecase implements recording and querying of the operator audit trail.
package usecase

import (
	"context"
	"time"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
)

// AuditLogRepository persists audit logs.
type AuditLogRepository interface {
	Create(ctx context.Context, auditLog *auditDomain.AuditLog) error
	List(ctx context.Context, offset, limit int, createdAtFrom, createdAtTo *time.Time) ([]*auditDomain.AuditLog, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time, dryRun bool) (int64, error)
}

// AuditLogUseCase records operator actions and exposes them to operators.
type AuditLogUseCase interface {
	// Record appends an entry. The request id is taken from ctx when present.
	Record(
		ctx context.Context,
		actor string,
		action auditDomain.Action,
		resource string,
		metadata map[string]any,
	) error

	// List returns entries newest first. Both time bounds are optional and inclusive.
	List(ctx context.Context, offset, limit int, createdAtFrom, createdAtTo *time.Time) ([]*auditDomain.AuditLog, error)

	// DeleteOlderThan removes (or with dryRun, counts) entries older than days.
	DeleteOlderThan(ctx context.Context, days int, dryRun bool) (int64, error)
}
