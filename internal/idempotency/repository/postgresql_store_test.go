package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

var recordColumns = []string{
	"idempotency_key", "status", "result", "lock_token", "lock_expires_at", "created_at", "expires_at",
}

func newPostgreSQLStore(t *testing.T) (*PostgreSQLStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := NewPostgreSQLStore(db)
	store.nowFn = func() time.Time { return now }
	return store, mock, now
}

func TestPostgreSQLStore_Acquire_Insert(t *testing.T) {
	store, mock, now := newPostgreSQLStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WithArgs("invoice:1", "tok", now.Add(time.Minute), now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, acquired, err := store.Acquire(context.Background(), "invoice:1", "tok", time.Minute, time.Hour)

	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "tok", record.LockToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStore_Acquire_Takeover(t *testing.T) {
	store, mock, _ := newPostgreSQLStore(t)

	mock.ExpectExec("INSERT INTO idempotency_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE idempotency_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, acquired, err := store.Acquire(context.Background(), "invoice:1", "tok", time.Minute, time.Hour)

	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStore_Acquire_Completed(t *testing.T) {
	store, mock, now := newPostgreSQLStore(t)

	mock.ExpectExec("INSERT INTO idempotency_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE idempotency_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT idempotency_key, status").
		WithArgs("invoice:1", now).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("invoice:1", "completed", []byte(`{"folio":"A-1"}`), nil, nil, now, now.Add(time.Hour)))

	record, acquired, err := store.Acquire(context.Background(), "invoice:1", "tok", time.Minute, time.Hour)

	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Equal(t, idempotencyDomain.StatusCompleted, record.Status)
	assert.Equal(t, []byte(`{"folio":"A-1"}`), record.Result)
	assert.Nil(t, record.LockExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStore_Acquire_Vanished(t *testing.T) {
	store, mock, _ := newPostgreSQLStore(t)

	mock.ExpectExec("INSERT INTO idempotency_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE idempotency_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT idempotency_key, status").WillReturnRows(sqlmock.NewRows(recordColumns))

	record, acquired, err := store.Acquire(context.Background(), "invoice:1", "tok", time.Minute, time.Hour)

	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Nil(t, record)
}

func TestPostgreSQLStore_CompleteAndRelease(t *testing.T) {
	store, mock, _ := newPostgreSQLStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
		WithArgs("invoice:1", "tok", []byte("ok")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Complete(ctx, "invoice:1", "tok", []byte("ok")))

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.Complete(ctx, "invoice:1", "stale", []byte("ok")), idempotencyDomain.ErrLockLost)

	mock.ExpectExec(regexp.QuoteMeta("SET lock_token = NULL, lock_expires_at = NULL")).
		WithArgs("invoice:2", "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Release(ctx, "invoice:2", "tok"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStore_DeleteExpired(t *testing.T) {
	store, mock, now := newPostgreSQLStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_records WHERE expires_at <= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 12))

	count, err := store.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_Acquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := NewMySQLStore(db)
	store.nowFn = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO idempotency_records")).
		WithArgs("sms:1", "tok", now.Add(time.Minute), now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE idempotency_records")).
		WithArgs("tok", now.Add(time.Minute), now, now.Add(time.Hour), "sms:1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT idempotency_key, status").
		WithArgs("sms:1", now).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("sms:1", "in_progress", nil, "other", now.Add(30*time.Second), now, now.Add(time.Hour)))

	record, acquired, err := store.Acquire(context.Background(), "sms:1", "tok", time.Minute, time.Hour)

	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Equal(t, "other", record.LockToken)
	assert.True(t, record.LockLive(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_Complete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
		WithArgs([]byte("ok"), "sms:1", "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewMySQLStore(db).Complete(context.Background(), "sms:1", "tok", []byte("ok")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
