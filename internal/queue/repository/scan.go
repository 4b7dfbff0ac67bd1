package repository

import (
	"database/sql"
	"errors"

	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

const jobColumns = `id, queue_name, job_type, service, idempotency_key, payload, priority, attempts,
	max_attempts, next_attempt_at, status, last_error, locked_by, locked_at, dead_lettered_at,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*queueDomain.Job, error) {
	var job queueDomain.Job
	err := row.Scan(
		&job.ID,
		&job.QueueName,
		&job.JobType,
		&job.Service,
		&job.IdempotencyKey,
		&job.Payload,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextAttemptAt,
		&job.Status,
		&job.LastError,
		&job.LockedBy,
		&job.LockedAt,
		&job.DeadLetteredAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queueDomain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*queueDomain.Job, error) {
	defer rows.Close() //nolint:errcheck

	jobs := []*queueDomain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanCounts(rows *sql.Rows, queue string) (queueDomain.StatusCounts, error) {
	defer rows.Close() //nolint:errcheck

	counts := queueDomain.StatusCounts{Queue: queue}
	for rows.Next() {
		var (
			status queueDomain.Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		counts.Set(status, n)
	}
	return counts, rows.Err()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queueDomain.ErrJobStale
	}
	return nil
}
