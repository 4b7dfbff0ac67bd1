// Package usecase implements the Idempotency Ledger: keyed at-most-once execution of
// external side effects on top of a pluggable atomic store.
package usecase

import (
	"context"
	"time"

	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

// Operation is the side effect protected by a key. Its returned bytes are stored and
// replayed to every later caller with the same key.
type Operation func(ctx context.Context) ([]byte, error)

// Store persists idempotency records. Every method is a single atomic step on the
// backing store; none of them reads and then writes.
type Store interface {
	// Acquire creates an in_progress record locked by token, or takes over a record
	// that is expired or in_progress without a live lock. When it cannot, it returns
	// the current record (nil if it vanished in between) and false.
	Acquire(
		ctx context.Context,
		key, token string,
		lockTTL, ttl time.Duration,
	) (*idempotencyDomain.Record, bool, error)

	// Complete stores result and marks the record completed if token still owns it.
	Complete(ctx context.Context, key, token string, result []byte) error

	// Release clears the lock owned by token and leaves the record in_progress.
	Release(ctx context.Context, key, token string) error

	// Get returns the record for key or ErrRecordNotFound.
	Get(ctx context.Context, key string) (*idempotencyDomain.Record, error)

	// DeleteExpired removes records whose TTL passed and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Ledger runs keyed operations at most once per TTL window.
type Ledger interface {
	// ExecuteOnce runs op unless key already completed (its stored result is replayed)
	// or another caller is executing it (the call waits, then fails with ErrLockTimeout).
	// A ttl of zero selects the configured default.
	ExecuteOnce(ctx context.Context, key string, ttl time.Duration, op Operation) (idempotencyDomain.Result, error)

	// Get returns the record for key.
	Get(ctx context.Context, key string) (*idempotencyDomain.Record, error)

	// PurgeExpired removes expired records.
	PurgeExpired(ctx context.Context) (int64, error)
}
