package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fieldops/resilience/internal/alert"
	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	"github.com/fieldops/resilience/internal/metrics"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// Job outcomes recorded as metric statuses.
const (
	OutcomeCompleted  = "completed"
	OutcomeRetry      = "retry"
	OutcomeDeferred   = "deferred"
	OutcomeFailed     = "failed"
	OutcomeDeadLetter = "dead_letter"
	OutcomeReleased   = "released"
)

// WorkerConfig identifies the queue a worker drains and how.
type WorkerConfig struct {
	Queue    string
	WorkerID string
	Policy   queueDomain.Policy
}

// Worker drains one queue with bounded concurrency and an optional rate limit.
type Worker struct {
	cfg       WorkerConfig
	txManager database.TxManager
	jobRepo   JobRepository
	handlers  map[string]Handler
	sealer    Sealer
	alerter   alert.Alerter
	metrics   metrics.BusinessMetrics
	logger    *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wg      sync.WaitGroup
	nowFn   func() time.Time
}

// NewWorker creates a worker. handlers maps job types to their handler.
func NewWorker(
	cfg WorkerConfig,
	txManager database.TxManager,
	jobRepo JobRepository,
	handlers map[string]Handler,
	sealer Sealer,
	alerter alert.Alerter,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *Worker {
	concurrency := cfg.Policy.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if cfg.Policy.BatchSize <= 0 {
		cfg.Policy.BatchSize = concurrency
	}
	if cfg.Policy.PollInterval <= 0 {
		cfg.Policy.PollInterval = time.Second
	}
	if cfg.Policy.JobTimeout <= 0 {
		cfg.Policy.JobTimeout = 30 * time.Second
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}

	w := &Worker{
		cfg:       cfg,
		txManager: txManager,
		jobRepo:   jobRepo,
		handlers:  handlers,
		sealer:    sealer,
		alerter:   alerter,
		metrics:   businessMetrics,
		logger:    logger.With(slog.String("queue", cfg.Queue), slog.String("worker_id", cfg.WorkerID)),
		sem:       semaphore.NewWeighted(int64(concurrency)),
		nowFn:     time.Now,
	}
	if cfg.Policy.RateLimitPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(float64(cfg.Policy.RateLimitPerMinute)/60), 1)
	}
	return w
}

// Run polls the queue until ctx is cancelled, then waits for running jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting queue worker",
		slog.Int("concurrency", w.cfg.Policy.Concurrency),
		slog.Int("rate_limit_per_minute", w.cfg.Policy.RateLimitPerMinute),
		slog.Duration("poll_interval", w.cfg.Policy.PollInterval),
	)

	ticker := time.NewTicker(w.cfg.Policy.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("failed to claim jobs", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("stopping queue worker")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue claims as many due jobs as there are free slots and starts them.
// It returns the number of jobs started.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	slots := 0
	for slots < w.cfg.Policy.BatchSize && w.sem.TryAcquire(1) {
		slots++
	}
	if slots == 0 {
		return 0, nil
	}

	// a claimed job holds its lock from here on, so only claim what the rate limit
	// lets start right away
	reservedAt := time.Now()
	var reservations []*rate.Reservation
	if w.limiter != nil {
		for len(reservations) < slots {
			r := w.limiter.ReserveN(reservedAt, 1)
			if !r.OK() || r.DelayFrom(reservedAt) > 0 {
				r.CancelAt(reservedAt)
				break
			}
			reservations = append(reservations, r)
		}
		if limited := slots - len(reservations); limited > 0 {
			w.sem.Release(int64(limited))
			slots = len(reservations)
		}
		if slots == 0 {
			return 0, nil
		}
	}

	var jobs []*queueDomain.Job
	err := w.txManager.WithTx(ctx, func(ctx context.Context) error {
		var err error
		jobs, err = w.jobRepo.ClaimDue(ctx, w.cfg.Queue, w.cfg.WorkerID, w.nowFn(), slots)
		return err
	})
	if err != nil {
		w.sem.Release(int64(slots))
		cancelReservations(reservations, reservedAt)
		return 0, err
	}
	if unused := slots - len(jobs); unused > 0 {
		w.sem.Release(int64(unused))
	}
	if len(reservations) > len(jobs) {
		cancelReservations(reservations[len(jobs):], reservedAt)
	}

	for _, job := range jobs {
		w.wg.Add(1)
		go w.handle(ctx, job)
	}
	return len(jobs), nil
}

func cancelReservations(reservations []*rate.Reservation, at time.Time) {
	for _, r := range reservations {
		r.CancelAt(at)
	}
}

// Wait blocks until every started job settled.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) handle(ctx context.Context, job *queueDomain.Job) {
	defer func() {
		w.sem.Release(1)
		w.wg.Done()
	}()

	start := time.Now()
	err := w.execute(ctx, job)
	outcome := w.settle(ctx, job, err, ctx.Err() != nil && errors.Is(err, context.Canceled))

	w.metrics.RecordOperation(ctx, "queue", "process", outcome)
	w.metrics.RecordDuration(ctx, "queue", "process", time.Since(start), outcome)
}

func (w *Worker) execute(ctx context.Context, job *queueDomain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, ok := w.handlers[job.JobType]
	if !ok {
		return apperrors.Wrapf(queueDomain.ErrNoHandler, "job type %q", job.JobType)
	}

	payload := job.Payload
	if w.sealer != nil {
		payload, err = w.sealer.Open(job.Payload, job.ID[:])
		if err != nil {
			return apperrors.Permanent(apperrors.Wrap(err, "failed to open job payload"))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.Policy.JobTimeout)
	defer cancel()
	return handler(runCtx, job, payload)
}

// settle applies the handler outcome and persists it. Shutdown releases the job
// without spending an attempt.
func (w *Worker) settle(ctx context.Context, job *queueDomain.Job, err error, shutdown bool) string {
	now := w.nowFn()
	var (
		outcome    string
		transition error
	)

	switch deferred, isDefer := queueDomain.AsDefer(err); {
	case err == nil:
		outcome, transition = OutcomeCompleted, job.Complete(now)
	case shutdown:
		outcome, transition = OutcomeReleased, job.Release(now)
	case isDefer:
		outcome, transition = OutcomeDeferred, job.Defer(deferred.Until, now)
	case apperrors.IsPermanent(err):
		outcome, transition = OutcomeFailed, job.Fail(err, now)
	default:
		var dead bool
		dead, transition = job.Retry(err, w.cfg.Policy.Backoff, now)
		outcome = OutcomeRetry
		if dead {
			outcome = OutcomeDeadLetter
		}
	}
	if transition != nil {
		w.logger.Error("invalid job transition", slog.String("job_id", job.ID.String()), slog.Any("error", transition))
		return outcome
	}

	persistCtx := context.WithoutCancel(ctx)
	if updateErr := w.jobRepo.Update(persistCtx, job, queueDomain.StatusProcessing, w.cfg.WorkerID); updateErr != nil {
		w.logger.Error("failed to persist job outcome",
			slog.String("job_id", job.ID.String()),
			slog.String("outcome", outcome),
			slog.Any("error", updateErr),
		)
		return outcome
	}

	attrs := []any{
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.JobType),
		slog.String("service", job.Service),
		slog.String("idempotency_key", job.IdempotencyKey),
		slog.Int("attempts", job.Attempts),
		slog.String("outcome", outcome),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}

	switch outcome {
	case OutcomeCompleted, OutcomeReleased:
		w.logger.Info("job settled", attrs...)
	case OutcomeDeferred:
		w.logger.Info("job settled", append(attrs, slog.Time("next_attempt_at", job.NextAttemptAt))...)
	case OutcomeRetry:
		w.logger.Warn("job settled", append(attrs, slog.Time("next_attempt_at", job.NextAttemptAt))...)
	case OutcomeFailed:
		w.logger.Error("job settled", attrs...)
		w.sendAlert(persistCtx, alert.SeverityWarning,
			fmt.Sprintf("job %s failed permanently", job.JobType),
			fmt.Sprintf("job %s in queue %s: %v", job.ID, job.QueueName, err))
	case OutcomeDeadLetter:
		w.logger.Error("job settled", attrs...)
		w.sendAlert(persistCtx, alert.SeverityWarning,
			fmt.Sprintf("job %s dead-lettered", job.JobType),
			fmt.Sprintf("job %s in queue %s exhausted %d attempts: %v", job.ID, job.QueueName, job.Attempts, err))
	}
	return outcome
}

func (w *Worker) sendAlert(ctx context.Context, severity alert.Severity, title, message string) {
	if w.alerter == nil {
		return
	}
	if err := w.alerter.SendAlert(ctx, severity, title, message); err != nil {
		w.logger.Error("failed to send job alert", slog.Any("error", err))
	}
}

// RunWorkers runs every worker until ctx is cancelled.
func RunWorkers(ctx context.Context, workers ...*Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
