// Package usecase implements the health monitor: per-service circuit breakers with
// hysteresis, operator overrides, transition alerts and metrics.
package usecase

import (
	"context"
	"time"

	healthDomain "github.com/fieldops/resilience/internal/health/domain"
)

// Monitor tracks the health of external services from call outcomes.
type Monitor interface {
	// RecordSuccess counts a successful call.
	RecordSuccess(ctx context.Context, service string)

	// RecordFailure counts a failed call. Only transient errors change health.
	RecordFailure(ctx context.Context, service string, err error)

	// RecordOutcome dispatches to RecordSuccess or RecordFailure by error class.
	RecordOutcome(ctx context.Context, service string, err error)

	// State returns the effective state. Unknown services are normal.
	State(service string) healthDomain.State

	// Health returns the snapshot of a monitored service.
	Health(service string) (healthDomain.ServiceHealth, error)

	// List returns snapshots of every monitored service sorted by name.
	List() []healthDomain.ServiceHealth

	// Policy returns the thresholds and timeouts used for service.
	Policy(service string) healthDomain.Policy

	// PanicWindowEnd reports until when calls to service should not be attempted.
	PanicWindowEnd(service string) (time.Time, bool)

	// ForceState pins the effective state of service. The action is audit logged.
	ForceState(
		ctx context.Context,
		service string,
		state healthDomain.State,
		actor, reason string,
	) (healthDomain.ServiceHealth, error)

	// ClearOverride returns service to its automatic state. The action is audit logged.
	ClearOverride(ctx context.Context, service, actor string) (healthDomain.ServiceHealth, error)
}
