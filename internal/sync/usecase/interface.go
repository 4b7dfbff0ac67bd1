// Package usecase implements the offline sync engine: local writes that never block on
// the network, a FIFO push of queued changes, pull with conflict detection and
// deterministic conflict resolution.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

// Store is the local replica.
type Store interface {
	Update(ctx context.Context, fn func(tx syncDomain.Tx) error) error
	View(ctx context.Context, fn func(tx syncDomain.Tx) error) error
}

// ServerClient talks to the server of record. Errors are classified transient or
// permanent.
type ServerClient interface {
	Pull(ctx context.Context, since time.Time) (*syncDomain.ChangeSetPage, error)
	Push(ctx context.Context, mutation syncDomain.Mutation, idempotencyKey string) (*syncDomain.Ack, error)
}

// Engine is the device-side sync API.
type Engine interface {
	// Write creates (uuid.Nil or unknown id) or updates an entity and queues the
	// change in the same local transaction.
	Write(ctx context.Context, entityType string, entityID uuid.UUID, fields map[string]any) (*syncDomain.Entity, error)

	Get(ctx context.Context, entityID uuid.UUID) (*syncDomain.Entity, error)

	// Pending returns the queued changes in push order.
	Pending(ctx context.Context) ([]*syncDomain.QueueEntry, error)

	// SyncNow runs one pull then push cycle. A rejected pull is returned as an error
	// after the push phase has still run.
	SyncNow(ctx context.Context) (syncDomain.Report, error)

	// Run syncs on NotifyOnline and periodically until ctx is done. While offline the
	// periodic ticks probe the server with backoff.
	Run(ctx context.Context) error

	// NotifyOnline signals that connectivity came back.
	NotifyOnline()

	Conflicts(ctx context.Context) ([]*syncDomain.Entity, error)

	// SuggestResolution applies the deterministic policy without changing anything.
	SuggestResolution(ctx context.Context, entityID uuid.UUID) (syncDomain.Suggestion, error)

	ResolveConflict(ctx context.Context, entityID uuid.UUID, strategy syncDomain.Strategy) (*syncDomain.Entity, error)
}
