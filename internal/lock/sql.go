package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLocker uses session-level advisory locks. Each held lock pins one
// connection from the pool until it is released, so the lock dies with the session.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker creates a Locker over a PostgreSQL pool.
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// TryLock ignores ttl; the lock lasts until Release or the session ends.
func (p *PostgresLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	id := advisoryKey(key)
	return trySessionLock(ctx, p.db,
		"SELECT pg_try_advisory_lock($1)", "SELECT pg_advisory_unlock($1)", id)
}

// MySQLLocker uses GET_LOCK named locks, which are also bound to the session.
type MySQLLocker struct {
	db *sql.DB
}

// NewMySQLLocker creates a Locker over a MySQL pool.
func NewMySQLLocker(db *sql.DB) *MySQLLocker {
	return &MySQLLocker{db: db}
}

func (m *MySQLLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	// MySQL lock names are limited to 64 characters.
	name := fmt.Sprintf("resilience:%x", uint64(advisoryKey(key)))
	return trySessionLock(ctx, m.db, "SELECT GET_LOCK(?, 0)", "SELECT RELEASE_LOCK(?)", name)
}

func trySessionLock(ctx context.Context, db *sql.DB, acquireQuery, releaseQuery string, arg any) (Lock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	var obtained sql.NullBool
	if err := conn.QueryRowContext(ctx, acquireQuery, arg).Scan(&obtained); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !obtained.Valid || !obtained.Bool {
		_ = conn.Close()
		return nil, ErrNotObtained
	}

	return &sessionLock{conn: conn, releaseQuery: releaseQuery, arg: arg}, nil
}

type sessionLock struct {
	conn         *sql.Conn
	releaseQuery string
	arg          any
}

func (l *sessionLock) Release(ctx context.Context) error {
	defer func() { _ = l.conn.Close() }()
	if _, err := l.conn.ExecContext(ctx, l.releaseQuery, l.arg); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
