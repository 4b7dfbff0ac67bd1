package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// PostgreSQLJobRepository implements job persistence for PostgreSQL. Active
// idempotency keys are unique per queue through a partial index.
type PostgreSQLJobRepository struct {
	db *sql.DB
}

// NewPostgreSQLJobRepository creates a new PostgreSQL job repository.
func NewPostgreSQLJobRepository(db *sql.DB) *PostgreSQLJobRepository {
	return &PostgreSQLJobRepository{db: db}
}

// Create inserts a pending job. ErrDuplicateActiveJob is returned when an active
// job already holds the idempotency key.
func (p *PostgreSQLJobRepository) Create(ctx context.Context, job *queueDomain.Job) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO jobs (` + jobColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			  ON CONFLICT (queue_name, idempotency_key) WHERE status IN ('pending', 'processing') DO NOTHING`

	result, err := querier.ExecContext(ctx, query,
		job.ID, job.QueueName, job.JobType, job.Service, job.IdempotencyKey, job.Payload,
		job.Priority, job.Attempts, job.MaxAttempts, job.NextAttemptAt, string(job.Status),
		job.LastError, job.LockedBy, job.LockedAt, job.DeadLetteredAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create job")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to create job")
	}
	if affected == 0 {
		return queueDomain.ErrDuplicateActiveJob
	}
	return nil
}

func (p *PostgreSQLJobRepository) Update(
	ctx context.Context,
	job *queueDomain.Job,
	from queueDomain.Status,
	lockedBy string,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE jobs
			  SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, locked_by = $5,
			      locked_at = $6, dead_lettered_at = $7, updated_at = $8
			  WHERE id = $9 AND status = $10 AND ($11 = '' OR locked_by = $11)`

	result, err := querier.ExecContext(ctx, query,
		string(job.Status), job.Attempts, job.NextAttemptAt, job.LastError, job.LockedBy,
		job.LockedAt, job.DeadLetteredAt, job.UpdatedAt, job.ID, string(from), lockedBy,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update job")
	}
	return requireAffected(result)
}

func (p *PostgreSQLJobRepository) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, p.db)

	row := querier.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (p *PostgreSQLJobRepository) FindActiveByKey(
	ctx context.Context,
	queue, key string,
) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = $1 AND idempotency_key = $2 AND status IN ('pending', 'processing')`

	return scanJob(querier.QueryRowContext(ctx, query, queue, key))
}

func (p *PostgreSQLJobRepository) CountActive(ctx context.Context, queue string) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	var n int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE queue_name = $1 AND status IN ('pending', 'processing')`,
		queue,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count active jobs")
	}
	return n, nil
}

func (p *PostgreSQLJobRepository) OldestLowPriority(
	ctx context.Context,
	queue string,
	highPriority int,
) (*queueDomain.Job, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = $1 AND status = 'pending' AND priority < $2
			  ORDER BY created_at ASC
			  LIMIT 1
			  FOR UPDATE SKIP LOCKED`

	return scanJob(querier.QueryRowContext(ctx, query, queue, highPriority))
}

// ClaimDue locks and marks due jobs in one statement.
func (p *PostgreSQLJobRepository) ClaimDue(
	ctx context.Context,
	queue, workerID string,
	now time.Time,
	limit int,
) ([]*queueDomain.Job, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE jobs
			  SET status = 'processing', locked_by = $1, locked_at = $2, updated_at = $2
			  WHERE id IN (
			      SELECT id FROM jobs
			      WHERE queue_name = $3 AND status = 'pending' AND next_attempt_at <= $2
			      ORDER BY priority DESC, next_attempt_at ASC
			      LIMIT $4
			      FOR UPDATE SKIP LOCKED
			  )
			  RETURNING ` + jobColumns

	rows, err := querier.QueryContext(ctx, query, workerID, now, queue, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim jobs")
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim jobs")
	}
	sortClaimOrder(jobs)
	return jobs, nil
}

func (p *PostgreSQLJobRepository) ListByStatus(
	ctx context.Context,
	queue string,
	status queueDomain.Status,
	offset, limit int,
) ([]*queueDomain.Job, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + jobColumns + ` FROM jobs
			  WHERE queue_name = $1 AND status = $2
			  ORDER BY updated_at DESC
			  LIMIT $3 OFFSET $4`

	rows, err := querier.QueryContext(ctx, query, queue, string(status), limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list jobs")
	}
	return scanJobs(rows)
}

func (p *PostgreSQLJobRepository) CountByStatus(
	ctx context.Context,
	queue string,
) (queueDomain.StatusCounts, error) {
	querier := database.GetTx(ctx, p.db)

	rows, err := querier.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE queue_name = $1 GROUP BY status`, queue)
	if err != nil {
		return queueDomain.StatusCounts{}, apperrors.Wrap(err, "failed to count jobs")
	}
	return scanCounts(rows, queue)
}

func (p *PostgreSQLJobRepository) ReleaseStale(
	ctx context.Context,
	queue string,
	lockedBefore, now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE jobs
		 SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = $3
		 WHERE queue_name = $1 AND status = 'processing' AND locked_at < $2`,
		queue, lockedBefore, now,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to release stale jobs")
	}
	return result.RowsAffected()
}
