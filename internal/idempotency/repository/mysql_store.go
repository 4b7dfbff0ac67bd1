package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

// MySQLStore implements the idempotency store for MySQL with INSERT IGNORE followed by
// a guarded UPDATE.
type MySQLStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewMySQLStore creates a new MySQL idempotency store.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (m *MySQLStore) Acquire(
	ctx context.Context,
	key, token string,
	lockTTL, ttl time.Duration,
) (*idempotencyDomain.Record, bool, error) {
	querier := database.GetTx(ctx, m.db)
	now := m.nowFn()
	lockExpiresAt := now.Add(lockTTL)
	expiresAt := now.Add(ttl)

	result, err := querier.ExecContext(ctx,
		`INSERT IGNORE INTO idempotency_records
		   (idempotency_key, status, result, lock_token, lock_expires_at, created_at, expires_at)
		 VALUES (?, 'in_progress', NULL, ?, ?, ?, ?)`,
		key, token, lockExpiresAt, now, expiresAt,
	)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to insert idempotency record")
	}
	acquired := &idempotencyDomain.Record{
		Key:           key,
		Status:        idempotencyDomain.StatusInProgress,
		LockToken:     token,
		LockExpiresAt: &lockExpiresAt,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if ok, err := affectedOne(result); err != nil || ok {
		return acquired, ok, err
	}

	result, err = querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = 'in_progress', result = NULL, lock_token = ?, lock_expires_at = ?,
		     created_at = ?, expires_at = ?
		 WHERE idempotency_key = ?
		   AND (expires_at <= ?
		        OR (status = 'in_progress' AND (lock_token IS NULL OR lock_expires_at <= ?)))`,
		token, lockExpiresAt, now, expiresAt, key, now, now,
	)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to take over idempotency record")
	}
	if ok, err := affectedOne(result); err != nil || ok {
		return acquired, ok, err
	}

	record, err := m.Get(ctx, key)
	if errors.Is(err, idempotencyDomain.ErrRecordNotFound) {
		return nil, false, nil
	}
	return record, false, err
}

func (m *MySQLStore) Complete(ctx context.Context, key, token string, result []byte) error {
	querier := database.GetTx(ctx, m.db)

	res, err := querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = 'completed', result = ?, lock_token = NULL, lock_expires_at = NULL
		 WHERE idempotency_key = ? AND lock_token = ?`,
		result, key, token,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete idempotency record")
	}
	return requireOne(res)
}

func (m *MySQLStore) Release(ctx context.Context, key, token string) error {
	querier := database.GetTx(ctx, m.db)

	res, err := querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET lock_token = NULL, lock_expires_at = NULL
		 WHERE idempotency_key = ? AND lock_token = ? AND status = 'in_progress'`,
		key, token,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to release idempotency lock")
	}
	return requireOne(res)
}

func (m *MySQLStore) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	querier := database.GetTx(ctx, m.db)

	row := querier.QueryRowContext(ctx,
		`SELECT idempotency_key, status, result, lock_token, lock_expires_at, created_at, expires_at
		 FROM idempotency_records
		 WHERE idempotency_key = ? AND expires_at > ?`,
		key, m.nowFn(),
	)
	return scanRecord(row)
}

func (m *MySQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	res, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= ?`, m.nowFn())
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete expired idempotency records")
	}
	return res.RowsAffected()
}
