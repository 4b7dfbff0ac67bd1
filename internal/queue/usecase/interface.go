// Package usecase implements the durable job queue: enqueue with dedupe and overflow
// policies, the worker pool, stale job reaping and dead-letter operator actions.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// JobRepository persists jobs. Implementations read the transaction from ctx.
type JobRepository interface {
	Create(ctx context.Context, job *queueDomain.Job) error

	// Update saves job when it is still in status from. A non-empty lockedBy also
	// requires the stored lock owner to match. Returns ErrJobStale otherwise.
	Update(ctx context.Context, job *queueDomain.Job, from queueDomain.Status, lockedBy string) error

	Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error)

	// FindActiveByKey returns the pending or processing job with key in queue.
	FindActiveByKey(ctx context.Context, queue, key string) (*queueDomain.Job, error)

	CountActive(ctx context.Context, queue string) (int64, error)

	// OldestLowPriority returns the oldest pending job below highPriority, locking it.
	OldestLowPriority(ctx context.Context, queue string, highPriority int) (*queueDomain.Job, error)

	// ClaimDue moves up to limit due pending jobs to processing, highest priority
	// first then oldest nextAttemptAt, skipping rows locked by other workers.
	ClaimDue(ctx context.Context, queue, workerID string, now time.Time, limit int) ([]*queueDomain.Job, error)

	ListByStatus(
		ctx context.Context,
		queue string,
		status queueDomain.Status,
		offset, limit int,
	) ([]*queueDomain.Job, error)

	CountByStatus(ctx context.Context, queue string) (queueDomain.StatusCounts, error)

	// ReleaseStale returns processing jobs locked before lockedBefore to pending.
	ReleaseStale(ctx context.Context, queue string, lockedBefore, now time.Time) (int64, error)
}

// Handler runs one job. payload is already opened. Returning an error made with
// queueDomain.Defer reschedules the job without spending an attempt; permanent
// errors fail it; anything else is retried with backoff.
type Handler func(ctx context.Context, job *queueDomain.Job, payload []byte) error

// Sealer protects payloads at rest.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// Queue is the producer and operator API of the job queue.
type Queue interface {
	// Enqueue persists work as pending. An active job with the same idempotency key
	// in the same queue is returned instead of creating a new one.
	Enqueue(ctx context.Context, input queueDomain.EnqueueInput) (*queueDomain.Job, error)

	Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error)

	ListDeadLetters(ctx context.Context, queue string, offset, limit int) ([]*queueDomain.Job, error)

	// RetryDeadLetter resets attempts and makes the job due now. Audit logged.
	RetryDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error)

	// DiscardDeadLetter marks the job discarded. Audit logged.
	DiscardDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error)

	Status(ctx context.Context, queue string) (queueDomain.StatusCounts, error)

	// ReapStale returns jobs stuck in processing past their queue's StaleLockTimeout
	// to pending. Attempts are unchanged.
	ReapStale(ctx context.Context) (int64, error)

	// CheckDeadLetters alerts for every queue whose dead letters reached its threshold.
	CheckDeadLetters(ctx context.Context) error

	// Queues returns the configured queue names.
	Queues() []string

	// Policy returns the policy of queue.
	Policy(queue string) (queueDomain.Policy, bool)
}
