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

// PostgreSQLStore implements the idempotency store for PostgreSQL. Acquire is an
// INSERT ... ON CONFLICT DO NOTHING followed by a guarded UPDATE; each statement is a
// single compare-and-set.
type PostgreSQLStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewPostgreSQLStore creates a new PostgreSQL idempotency store.
func NewPostgreSQLStore(db *sql.DB) *PostgreSQLStore {
	return &PostgreSQLStore{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (p *PostgreSQLStore) Acquire(
	ctx context.Context,
	key, token string,
	lockTTL, ttl time.Duration,
) (*idempotencyDomain.Record, bool, error) {
	querier := database.GetTx(ctx, p.db)
	now := p.nowFn()
	lockExpiresAt := now.Add(lockTTL)
	expiresAt := now.Add(ttl)

	result, err := querier.ExecContext(ctx,
		`INSERT INTO idempotency_records
		   (idempotency_key, status, result, lock_token, lock_expires_at, created_at, expires_at)
		 VALUES ($1, 'in_progress', NULL, $2, $3, $4, $5)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, token, lockExpiresAt, now, expiresAt,
	)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to insert idempotency record")
	}
	if acquired, err := affectedOne(result); err != nil || acquired {
		return p.acquiredRecord(key, token, lockExpiresAt, now, expiresAt), acquired, err
	}

	result, err = querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = 'in_progress', result = NULL, lock_token = $2, lock_expires_at = $3,
		     created_at = $4, expires_at = $5
		 WHERE idempotency_key = $1
		   AND (expires_at <= $4
		        OR (status = 'in_progress' AND (lock_token IS NULL OR lock_expires_at <= $4)))`,
		key, token, lockExpiresAt, now, expiresAt,
	)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to take over idempotency record")
	}
	if acquired, err := affectedOne(result); err != nil || acquired {
		return p.acquiredRecord(key, token, lockExpiresAt, now, expiresAt), acquired, err
	}

	record, err := p.Get(ctx, key)
	if errors.Is(err, idempotencyDomain.ErrRecordNotFound) {
		return nil, false, nil
	}
	return record, false, err
}

func (p *PostgreSQLStore) acquiredRecord(
	key, token string,
	lockExpiresAt, now, expiresAt time.Time,
) *idempotencyDomain.Record {
	return &idempotencyDomain.Record{
		Key:           key,
		Status:        idempotencyDomain.StatusInProgress,
		LockToken:     token,
		LockExpiresAt: &lockExpiresAt,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
}

func (p *PostgreSQLStore) Complete(ctx context.Context, key, token string, result []byte) error {
	querier := database.GetTx(ctx, p.db)

	res, err := querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = 'completed', result = $3, lock_token = NULL, lock_expires_at = NULL
		 WHERE idempotency_key = $1 AND lock_token = $2`,
		key, token, result,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete idempotency record")
	}
	return requireOne(res)
}

func (p *PostgreSQLStore) Release(ctx context.Context, key, token string) error {
	querier := database.GetTx(ctx, p.db)

	res, err := querier.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET lock_token = NULL, lock_expires_at = NULL
		 WHERE idempotency_key = $1 AND lock_token = $2 AND status = 'in_progress'`,
		key, token,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to release idempotency lock")
	}
	return requireOne(res)
}

func (p *PostgreSQLStore) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	querier := database.GetTx(ctx, p.db)

	row := querier.QueryRowContext(ctx,
		`SELECT idempotency_key, status, result, lock_token, lock_expires_at, created_at, expires_at
		 FROM idempotency_records
		 WHERE idempotency_key = $1 AND expires_at > $2`,
		key, p.nowFn(),
	)
	return scanRecord(row)
}

func (p *PostgreSQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	res, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, p.nowFn())
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete expired idempotency records")
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*idempotencyDomain.Record, error) {
	var (
		record        idempotencyDomain.Record
		status        string
		lockToken     sql.NullString
		lockExpiresAt sql.NullTime
	)

	err := row.Scan(
		&record.Key,
		&status,
		&record.Result,
		&lockToken,
		&lockExpiresAt,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idempotencyDomain.ErrRecordNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get idempotency record")
	}

	record.Status = idempotencyDomain.Status(status)
	record.LockToken = lockToken.String
	if lockExpiresAt.Valid {
		t := lockExpiresAt.Time
		record.LockExpiresAt = &t
	}
	return &record, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

func requireOne(res sql.Result) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return idempotencyDomain.ErrLockLost
	}
	return nil
}
