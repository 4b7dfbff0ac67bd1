package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/fieldops/resilience/internal/errors"
	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

const maxKeyLength = 255

// Config tunes lock leases and waiting.
type Config struct {
	DefaultTTL   time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// ledger implements Ledger.
type ledger struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, cfg Config, logger *slog.Logger) Ledger {
	return &ledger{store: store, cfg: cfg, logger: logger}
}

func (l *ledger) ExecuteOnce(
	ctx context.Context,
	key string,
	ttl time.Duration,
	op Operation,
) (idempotencyDomain.Result, error) {
	if key == "" || len(key) > maxKeyLength {
		return idempotencyDomain.Result{}, idempotencyDomain.ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = l.cfg.DefaultTTL
	}

	token := uuid.Must(uuid.NewV7()).String()
	deadline := time.Now().Add(l.cfg.WaitTimeout)

	var ticker *time.Ticker
	for {
		record, acquired, err := l.store.Acquire(ctx, key, token, l.cfg.LockTTL, ttl)
		if err != nil {
			return idempotencyDomain.Result{}, apperrors.Wrap(err, "failed to acquire idempotency key")
		}
		if acquired {
			return l.run(ctx, key, token, op)
		}
		if record != nil && record.Status == idempotencyDomain.StatusCompleted {
			return idempotencyDomain.Result{Value: record.Result, Replayed: true}, nil
		}

		if !time.Now().Before(deadline) {
			l.logger.Warn("idempotency key still locked",
				slog.String("key", key),
				slog.Duration("waited", l.cfg.WaitTimeout),
			)
			return idempotencyDomain.Result{}, apperrors.ErrLockTimeout
		}

		if ticker == nil {
			ticker = time.NewTicker(l.cfg.PollInterval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return idempotencyDomain.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// run executes op while holding the lock. The operation is bounded by the lock lease
// so a slow call cannot overlap with a caller that takes over an expired lease.
func (l *ledger) run(ctx context.Context, key, token string, op Operation) (idempotencyDomain.Result, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.LockTTL)
	defer cancel()

	value, err := op(opCtx)
	if err != nil {
		// The record stays so the key can be retried; only the lock goes away.
		if releaseErr := l.store.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
			l.logger.Error("failed to release idempotency lock",
				slog.String("key", key),
				slog.Any("error", releaseErr),
			)
		}
		return idempotencyDomain.Result{}, err
	}

	if err := l.store.Complete(context.WithoutCancel(ctx), key, token, value); err != nil {
		// The side effect already happened; report the result and leave the lease to
		// expire rather than inviting the caller to run it again.
		l.logger.Error("failed to complete idempotency record",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}

	return idempotencyDomain.Result{Value: value}, nil
}

func (l *ledger) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	return l.store.Get(ctx, key)
}

func (l *ledger) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := l.store.DeleteExpired(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to purge idempotency records")
	}
	if count > 0 {
		l.logger.Info("purged expired idempotency records", slog.Int64("count", count))
	}
	return count, nil
}
