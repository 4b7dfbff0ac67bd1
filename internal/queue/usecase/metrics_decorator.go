package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/fieldops/resilience/internal/errors"
	"github.com/fieldops/resilience/internal/metrics"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// queueWithMetrics decorates Queue with metrics instrumentation.
type queueWithMetrics struct {
	next    Queue
	metrics metrics.BusinessMetrics
}

// NewQueueWithMetrics wraps a Queue with metrics recording.
func NewQueueWithMetrics(q Queue, m metrics.BusinessMetrics) Queue {
	return &queueWithMetrics{next: q, metrics: m}
}

func (q *queueWithMetrics) record(ctx context.Context, operation string, start time.Time, status string) {
	q.metrics.RecordOperation(ctx, "queue", operation, status)
	q.metrics.RecordDuration(ctx, "queue", operation, time.Since(start), status)
}

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Enqueue records success, overflow or error outcomes.
func (q *queueWithMetrics) Enqueue(ctx context.Context, input queueDomain.EnqueueInput) (*queueDomain.Job, error) {
	start := time.Now()
	job, err := q.next.Enqueue(ctx, input)

	status := errorStatus(err)
	if apperrors.Is(err, apperrors.ErrQueueOverflow) {
		status = "overflow"
	}
	q.record(ctx, "enqueue", start, status)
	return job, err
}

func (q *queueWithMetrics) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	return q.next.Get(ctx, id)
}

func (q *queueWithMetrics) ListDeadLetters(
	ctx context.Context,
	queue string,
	offset, limit int,
) ([]*queueDomain.Job, error) {
	return q.next.ListDeadLetters(ctx, queue, offset, limit)
}

func (q *queueWithMetrics) RetryDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error) {
	start := time.Now()
	job, err := q.next.RetryDeadLetter(ctx, id, actor)
	q.record(ctx, "dead_letter_retry", start, errorStatus(err))
	return job, err
}

func (q *queueWithMetrics) DiscardDeadLetter(
	ctx context.Context,
	id uuid.UUID,
	actor string,
) (*queueDomain.Job, error) {
	start := time.Now()
	job, err := q.next.DiscardDeadLetter(ctx, id, actor)
	q.record(ctx, "dead_letter_discard", start, errorStatus(err))
	return job, err
}

// Status also publishes the per-status depth gauges.
func (q *queueWithMetrics) Status(ctx context.Context, queue string) (queueDomain.StatusCounts, error) {
	counts, err := q.next.Status(ctx, queue)
	if err != nil {
		return counts, err
	}
	for _, status := range queueDomain.AllStatuses {
		q.metrics.RecordQueueDepth(ctx, queue, string(status), counts.Get(status))
	}
	return counts, nil
}

func (q *queueWithMetrics) ReapStale(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := q.next.ReapStale(ctx)
	q.record(ctx, "reap_stale", start, errorStatus(err))
	return count, err
}

// CheckDeadLetters refreshes the depth gauges of every queue before checking.
func (q *queueWithMetrics) CheckDeadLetters(ctx context.Context) error {
	for _, name := range q.next.Queues() {
		if _, err := q.Status(ctx, name); err != nil {
			return err
		}
	}
	return q.next.CheckDeadLetters(ctx)
}

func (q *queueWithMetrics) Queues() []string {
	return q.next.Queues()
}

func (q *queueWithMetrics) Policy(queue string) (queueDomain.Policy, bool) {
	return q.next.Policy(queue)
}
