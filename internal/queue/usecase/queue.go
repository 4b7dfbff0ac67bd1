package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/fieldops/resilience/internal/alert"
	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

const maxPriority = 100

// Config maps queue names to their policies.
type Config struct {
	Queues map[string]queueDomain.Policy
}

// queue implements Queue.
type queue struct {
	cfg             Config
	txManager       database.TxManager
	jobRepo         JobRepository
	sealer          Sealer
	auditLogUseCase auditUseCase.AuditLogUseCase
	alerter         alert.Alerter
	logger          *slog.Logger
	nowFn           func() time.Time
}

// NewQueue creates the queue use case. sealer may be nil to store payloads as is.
func NewQueue(
	cfg Config,
	txManager database.TxManager,
	jobRepo JobRepository,
	sealer Sealer,
	auditLogUseCase auditUseCase.AuditLogUseCase,
	alerter alert.Alerter,
	logger *slog.Logger,
) Queue {
	return newQueue(cfg, txManager, jobRepo, sealer, auditLogUseCase, alerter, logger, time.Now)
}

func newQueue(
	cfg Config,
	txManager database.TxManager,
	jobRepo JobRepository,
	sealer Sealer,
	auditLogUseCase auditUseCase.AuditLogUseCase,
	alerter alert.Alerter,
	logger *slog.Logger,
	nowFn func() time.Time,
) *queue {
	return &queue{
		cfg:             cfg,
		txManager:       txManager,
		jobRepo:         jobRepo,
		sealer:          sealer,
		auditLogUseCase: auditLogUseCase,
		alerter:         alerter,
		logger:          logger,
		nowFn:           nowFn,
	}
}

func validateEnqueueInput(input *queueDomain.EnqueueInput) error {
	err := validation.ValidateStruct(input,
		validation.Field(&input.Queue, validation.Required, customValidation.Slug),
		validation.Field(&input.JobType, validation.Required, customValidation.NoWhitespace, validation.Length(1, 100)),
		validation.Field(&input.Service, validation.Required, customValidation.Slug),
		validation.Field(&input.IdempotencyKey, validation.Required, customValidation.IdempotencyKey),
		validation.Field(&input.Priority, validation.Min(0), validation.Max(maxPriority)),
		validation.Field(&input.MaxAttempts, validation.Min(0)),
	)
	return customValidation.WrapValidationError(err)
}

func (q *queue) Enqueue(ctx context.Context, input queueDomain.EnqueueInput) (*queueDomain.Job, error) {
	if err := validateEnqueueInput(&input); err != nil {
		return nil, err
	}
	policy, ok := q.cfg.Queues[input.Queue]
	if !ok {
		return nil, apperrors.Wrapf(queueDomain.ErrUnknownQueue, "queue %q", input.Queue)
	}

	now := q.nowFn()
	job := &queueDomain.Job{
		ID:             uuid.Must(uuid.NewV7()),
		QueueName:      input.Queue,
		JobType:        input.JobType,
		Service:        input.Service,
		IdempotencyKey: input.IdempotencyKey,
		Priority:       input.Priority,
		MaxAttempts:    policy.MaxAttempts,
		NextAttemptAt:  now,
		Status:         queueDomain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.MaxAttempts > 0 {
		job.MaxAttempts = input.MaxAttempts
	}
	if input.RunAt != nil && input.RunAt.After(now) {
		job.NextAttemptAt = *input.RunAt
	}

	job.Payload = input.Payload
	if q.sealer != nil {
		sealed, err := q.sealer.Seal(input.Payload, job.ID[:])
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to seal job payload")
		}
		job.Payload = sealed
	}

	var (
		result  *queueDomain.Job
		dropped *queueDomain.Job
	)
	err := q.txManager.WithTx(ctx, func(ctx context.Context) error {
		existing, err := q.jobRepo.FindActiveByKey(ctx, input.Queue, input.IdempotencyKey)
		if err == nil {
			result = existing
			return nil
		}
		if !apperrors.Is(err, queueDomain.ErrJobNotFound) {
			return err
		}

		dropped, err = q.makeRoom(ctx, policy, job, now)
		if err != nil {
			return err
		}

		if err := q.jobRepo.Create(ctx, job); err != nil {
			if apperrors.Is(err, queueDomain.ErrDuplicateActiveJob) {
				// a concurrent producer inserted the same key first
				existing, findErr := q.jobRepo.FindActiveByKey(ctx, input.Queue, input.IdempotencyKey)
				if findErr != nil {
					return err
				}
				result = existing
				return nil
			}
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != job {
		q.logger.Debug("job deduplicated by idempotency key",
			slog.String("queue", input.Queue),
			slog.String("idempotency_key", input.IdempotencyKey),
			slog.String("job_id", result.ID.String()),
		)
		return result, nil
	}

	if dropped != nil {
		q.logger.Warn("job dropped for overflow",
			slog.String("queue", dropped.QueueName),
			slog.String("job_id", dropped.ID.String()),
			slog.String("idempotency_key", dropped.IdempotencyKey),
		)
		q.sendAlert(ctx, alert.SeverityWarning,
			fmt.Sprintf("queue %s overflow", dropped.QueueName),
			fmt.Sprintf("job %s (%s) moved to dead letter to admit %s",
				dropped.ID, dropped.JobType, job.ID))
	}

	q.logger.Info("job enqueued",
		slog.String("queue", job.QueueName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.JobType),
		slog.String("idempotency_key", job.IdempotencyKey),
		slog.Int("priority", job.Priority),
	)
	return job, nil
}

// makeRoom applies the overflow policy when the queue is at capacity. It returns
// the job dropped to dead letter, if any.
func (q *queue) makeRoom(
	ctx context.Context,
	policy queueDomain.Policy,
	job *queueDomain.Job,
	now time.Time,
) (*queueDomain.Job, error) {
	if policy.MaxSize <= 0 {
		return nil, nil
	}
	active, err := q.jobRepo.CountActive(ctx, job.QueueName)
	if err != nil {
		return nil, err
	}
	if active < int64(policy.MaxSize) {
		return nil, nil
	}

	highPriority := policy.IsHighPriority(job.Priority)

	if policy.Overflow == queueDomain.OverflowDropOldestLowPriority {
		oldest, err := q.jobRepo.OldestLowPriority(ctx, job.QueueName, policy.HighPriority)
		switch {
		case err == nil:
			if err := oldest.DropForOverflow(now); err != nil {
				return nil, err
			}
			if err := q.jobRepo.Update(ctx, oldest, queueDomain.StatusPending, ""); err != nil {
				return nil, err
			}
			return oldest, nil
		case !apperrors.Is(err, queueDomain.ErrJobNotFound):
			return nil, err
		}
	}

	if highPriority {
		return nil, nil
	}
	return nil, apperrors.Wrapf(queueDomain.ErrQueueFull,
		"queue %s has %d active jobs", job.QueueName, active)
}

func (q *queue) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	return q.jobRepo.Get(ctx, id)
}

func (q *queue) ListDeadLetters(
	ctx context.Context,
	queueName string,
	offset, limit int,
) ([]*queueDomain.Job, error) {
	return q.jobRepo.ListByStatus(ctx, queueName, queueDomain.StatusDeadLetter, offset, limit)
}

func (q *queue) RetryDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error) {
	return q.operatorAction(ctx, id, actor, auditDomain.ActionDeadLetterRetry, (*queueDomain.Job).Requeue)
}

func (q *queue) DiscardDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error) {
	return q.operatorAction(ctx, id, actor, auditDomain.ActionDeadLetterDiscard, (*queueDomain.Job).Discard)
}

func (q *queue) operatorAction(
	ctx context.Context,
	id uuid.UUID,
	actor string,
	action auditDomain.Action,
	apply func(*queueDomain.Job, time.Time) error,
) (*queueDomain.Job, error) {
	var job *queueDomain.Job
	err := q.txManager.WithTx(ctx, func(ctx context.Context) error {
		var err error
		job, err = q.jobRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != queueDomain.StatusDeadLetter {
			return apperrors.Wrapf(queueDomain.ErrNotDeadLetter, "job %s is %s", job.ID, job.Status)
		}

		if err := apply(job, q.nowFn()); err != nil {
			return err
		}
		if err := q.jobRepo.Update(ctx, job, queueDomain.StatusDeadLetter, ""); err != nil {
			return err
		}

		return q.auditLogUseCase.Record(ctx, actor, action, job.ID.String(), map[string]any{
			"queue":           job.QueueName,
			"job_type":        job.JobType,
			"idempotency_key": job.IdempotencyKey,
		})
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("dead letter operator action",
		slog.String("action", string(action)),
		slog.String("job_id", job.ID.String()),
		slog.String("queue", job.QueueName),
		slog.String("actor", actor),
	)
	return job, nil
}

func (q *queue) Status(ctx context.Context, queueName string) (queueDomain.StatusCounts, error) {
	if _, ok := q.cfg.Queues[queueName]; !ok {
		return queueDomain.StatusCounts{}, apperrors.Wrapf(queueDomain.ErrUnknownQueue, "queue %q", queueName)
	}
	counts, err := q.jobRepo.CountByStatus(ctx, queueName)
	if err != nil {
		return queueDomain.StatusCounts{}, err
	}
	counts.Queue = queueName
	return counts, nil
}

func (q *queue) ReapStale(ctx context.Context) (int64, error) {
	now := q.nowFn()
	var total int64
	for _, name := range q.Queues() {
		policy := q.cfg.Queues[name]
		if policy.StaleLockTimeout <= 0 {
			continue
		}
		count, err := q.jobRepo.ReleaseStale(ctx, name, now.Add(-policy.StaleLockTimeout), now)
		if err != nil {
			return total, apperrors.Wrapf(err, "failed to reap stale jobs of queue %s", name)
		}
		if count > 0 {
			q.logger.Warn("stale jobs returned to pending",
				slog.String("queue", name),
				slog.Int64("count", count),
			)
		}
		total += count
	}
	return total, nil
}

func (q *queue) CheckDeadLetters(ctx context.Context) error {
	for _, name := range q.Queues() {
		policy := q.cfg.Queues[name]
		counts, err := q.jobRepo.CountByStatus(ctx, name)
		if err != nil {
			return err
		}
		if policy.DeadLetterAlertThreshold > 0 && counts.DeadLetter >= int64(policy.DeadLetterAlertThreshold) {
			q.sendAlert(ctx, alert.SeverityCritical,
				fmt.Sprintf("queue %s dead letters", name),
				fmt.Sprintf("%d jobs waiting for an operator (threshold %d)",
					counts.DeadLetter, policy.DeadLetterAlertThreshold))
		}
	}
	return nil
}

func (q *queue) Queues() []string {
	names := make([]string, 0, len(q.cfg.Queues))
	for name := range q.cfg.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (q *queue) Policy(queueName string) (queueDomain.Policy, bool) {
	p, ok := q.cfg.Queues[queueName]
	return p, ok
}

func (q *queue) sendAlert(ctx context.Context, severity alert.Severity, title, message string) {
	if q.alerter == nil {
		return
	}
	if err := q.alerter.SendAlert(ctx, severity, title, message); err != nil {
		q.logger.Error("failed to send queue alert", slog.String("title", title), slog.Any("error", err))
	}
}
