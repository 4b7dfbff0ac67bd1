package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// MySQLJobRepository implements job persistence for MySQL 8. Ids are BINARY(16);
// active idempotency keys are unique through a generated column. ClaimDue must run
// inside a transaction.
type MySQLJobRepository struct {
	db *sql.DB
}

// NewMySQLJobRepository creates a new MySQL job repository.
func NewMySQLJobRepository(db *sql.DB) *MySQLJobRepository {
	return &MySQLJobRepository{db: db}
}

func binaryID(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	return b
}

func (m *MySQLJobRepository) Create(ctx context.Context, job *queueDomain.Job) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO jobs (` + jobColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := querier.ExecContext(ctx, query,
		binaryID(job.ID), job.QueueName, job.JobType, job.Service, job.IdempotencyKey, job.Payload,
		job.Priority, job.Attempts, job.MaxAttempts, job.NextAttemptAt, string(job.Status),
		job.LastError, job.LockedBy, job.LockedAt, job.DeadLetteredAt, job.CreatedAt, job.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return queueDomain.ErrDuplicateActiveJob
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to create job")
	}
	return nil
}

func (m *MySQLJobRepository) Update(
	ctx context.Context,
	job *queueDomain.Job,
	from queueDomain.Status,
	lockedBy string,
) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE jobs
			  SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, locked_by = ?,
			      locked_at = ?, dead_lettered_at = ?, updated_at = ?
			  WHERE id = ? AND status = ? AND (? = '' OR locked_by = ?)`

	result, err := querier.ExecContext(ctx, query,
		string(job.Status), job.Attempts, job.NextAttemptAt, job.LastError, job.LockedBy,
		job.LockedAt, job.DeadLetteredAt, job.UpdatedAt, binaryID(job.ID), string(from), lockedBy, lockedBy,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update job")
	}
	return requireAffected(result)
}

func (m *MySQLJobRepository) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, m.db)

	row := querier.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, binaryID(id))
	return scanJob(row)
}

func (m *MySQLJobRepository) FindActiveByKey(ctx context.Context, queue, key string) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = ? AND idempotency_key = ? AND status IN ('pending', 'processing')`

	return scanJob(querier.QueryRowContext(ctx, query, queue, key))
}

func (m *MySQLJobRepository) CountActive(ctx context.Context, queue string) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	var n int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE queue_name = ? AND status IN ('pending', 'processing')`,
		queue,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count active jobs")
	}
	return n, nil
}

func (m *MySQLJobRepository) OldestLowPriority(
	ctx context.Context,
	queue string,
	highPriority int,
) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = ? AND status = 'pending' AND priority < ?
			  ORDER BY created_at ASC
			  LIMIT 1
			  FOR UPDATE SKIP LOCKED`

	return scanJob(querier.QueryRowContext(ctx, query, queue, highPriority))
}

// ClaimDue selects due rows with FOR UPDATE SKIP LOCKED and marks them processing.
func (m *MySQLJobRepository) ClaimDue(
	ctx context.Context,
	queue, workerID string,
	now time.Time,
	limit int,
) ([]*queueDomain.Job, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = ? AND status = 'pending' AND next_attempt_at <= ?
			  ORDER BY priority DESC, next_attempt_at ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, queue, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to select due jobs")
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to select due jobs")
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	placeholders := make([]string, len(jobs))
	args := []any{workerID, now, now}
	for i, job := range jobs {
		placeholders[i] = "?"
		args = append(args, binaryID(job.ID))
		if err := job.Claim(workerID, now); err != nil {
			return nil, err
		}
	}

	update := `UPDATE jobs SET status = 'processing', locked_by = ?, locked_at = ?, updated_at = ?
			   WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := querier.ExecContext(ctx, update, args...); err != nil {
		return nil, apperrors.Wrap(err, "failed to claim jobs")
	}
	return jobs, nil
}

func (m *MySQLJobRepository) ListByStatus(
	ctx context.Context,
	queue string,
	status queueDomain.Status,
	offset, limit int,
) ([]*queueDomain.Job, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = ? AND status = ?
			  ORDER BY updated_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, queue, string(status), limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list jobs")
	}
	return scanJobs(rows)
}

func (m *MySQLJobRepository) CountByStatus(ctx context.Context, queue string) (queueDomain.StatusCounts, error) {
	querier := database.GetTx(ctx, m.db)

	rows, err := querier.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE queue_name = ? GROUP BY status`, queue)
	if err != nil {
		return queueDomain.StatusCounts{}, apperrors.Wrap(err, "failed to count jobs")
	}
	return scanCounts(rows, queue)
}

func (m *MySQLJobRepository) ReleaseStale(
	ctx context.Context,
	queue string,
	lockedBefore, now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE jobs
		 SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE queue_name = ? AND status = 'processing' AND locked_at < ?`,
		now, queue, lockedBefore,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to release stale jobs")
	}
	return result.RowsAffected()
}
