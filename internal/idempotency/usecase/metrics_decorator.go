package usecase

import (
	"context"
	"time"

	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
	"github.com/fieldops/resilience/internal/metrics"
)

// ledgerWithMetrics decorates Ledger with metrics instrumentation.
type ledgerWithMetrics struct {
	next    Ledger
	metrics metrics.BusinessMetrics
}

// NewLedgerWithMetrics wraps a Ledger with metrics recording.
func NewLedgerWithMetrics(ledger Ledger, m metrics.BusinessMetrics) Ledger {
	return &ledgerWithMetrics{next: ledger, metrics: m}
}

// ExecuteOnce records success, replayed or error outcomes.
func (l *ledgerWithMetrics) ExecuteOnce(
	ctx context.Context,
	key string,
	ttl time.Duration,
	op Operation,
) (idempotencyDomain.Result, error) {
	start := time.Now()
	result, err := l.next.ExecuteOnce(ctx, key, ttl, op)

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case result.Replayed:
		status = "replayed"
	}

	l.metrics.RecordOperation(ctx, "idempotency", "execute_once", status)
	l.metrics.RecordDuration(ctx, "idempotency", "execute_once", time.Since(start), status)

	return result, err
}

func (l *ledgerWithMetrics) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	return l.next.Get(ctx, key)
}

// PurgeExpired records metrics for the purge sweep.
func (l *ledgerWithMetrics) PurgeExpired(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := l.next.PurgeExpired(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	l.metrics.RecordOperation(ctx, "idempotency", "purge_expired", status)
	l.metrics.RecordDuration(ctx, "idempotency", "purge_expired", time.Since(start), status)

	return count, err
}
