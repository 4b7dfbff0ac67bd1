package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	healthUseCase "github.com/fieldops/resilience/internal/health/usecase"
	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

const defaultLockRetryDelay = 5 * time.Second

// Route tells the router where deferred work of a service goes.
type Route struct {
	Queue string
	// IdempotencyTTL is how long results of the service's operations are replayed.
	// Zero selects the ledger default.
	IdempotencyTTL time.Duration
}

// Config configures the router.
type Config struct {
	Routes map[string]Route
	// LockRetryDelay postpones a queued job whose key is being executed elsewhere.
	LockRetryDelay time.Duration
}

type router struct {
	cfg      Config
	registry *Registry
	ledger   idempotencyUseCase.Ledger
	monitor  healthUseCase.Monitor
	queue    queueUseCase.Queue
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewRouter creates the fallback router.
func NewRouter(
	cfg Config,
	registry *Registry,
	ledger idempotencyUseCase.Ledger,
	monitor healthUseCase.Monitor,
	queue queueUseCase.Queue,
	logger *slog.Logger,
) Router {
	return newRouter(cfg, registry, ledger, monitor, queue, logger, time.Now)
}

func newRouter(
	cfg Config,
	registry *Registry,
	ledger idempotencyUseCase.Ledger,
	monitor healthUseCase.Monitor,
	queue queueUseCase.Queue,
	logger *slog.Logger,
	nowFn func() time.Time,
) *router {
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = defaultLockRetryDelay
	}
	return &router{
		cfg:      cfg,
		registry: registry,
		ledger:   ledger,
		monitor:  monitor,
		queue:    queue,
		logger:   logger,
		nowFn:    nowFn,
	}
}

// call runs the registered operation through the ledger. opErr is the operation's own
// error; a non-nil err with a nil opErr came from the ledger or its store.
func (r *router) call(
	ctx context.Context,
	reg Registration,
	key string,
	payload []byte,
	timeout time.Duration,
) (result []byte, replayed bool, opErr, err error) {
	ttl := r.cfg.Routes[reg.Service].IdempotencyTTL
	res, err := r.ledger.ExecuteOnce(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		out, err := reg.Operation(fallbackDomain.WithIdempotencyKey(ctx, key), payload)
		// unclassified errors count as transient
		opErr = apperrors.Transient(err)
		return out, opErr
	})
	if err != nil {
		return nil, false, opErr, err
	}
	return res.Value, res.Replayed, nil, nil
}

func (r *router) Perform(
	ctx context.Context,
	action fallbackDomain.Action,
	fallback fallbackDomain.Fallback,
) (fallbackDomain.Outcome, error) {
	reg, ok := r.registry.Lookup(action.Kind)
	if !ok {
		return fallbackDomain.Outcome{}, apperrors.Wrapf(fallbackDomain.ErrUnknownKind, "kind %q", action.Kind)
	}
	if action.Service == "" {
		action.Service = reg.Service
	}
	if action.Service != reg.Service {
		return fallbackDomain.Outcome{}, apperrors.Wrapf(fallbackDomain.ErrServiceMismatch,
			"kind %q belongs to %s, not %s", action.Kind, reg.Service, action.Service)
	}
	if _, ok := r.cfg.Routes[action.Service]; !ok {
		return fallbackDomain.Outcome{}, apperrors.Wrapf(fallbackDomain.ErrNoRoute, "service %s", action.Service)
	}
	if action.IdempotencyKey == "" {
		action.IdempotencyKey = action.Kind + ":" + uuid.Must(uuid.NewV7()).String()
	}
	if fallback == nil {
		fallback = reg.Fallback
	}

	state := r.monitor.State(action.Service)
	policy := r.monitor.Policy(action.Service)
	logger := r.logger.With(
		slog.String("service", action.Service),
		slog.String("kind", action.Kind),
		slog.String("idempotency_key", action.IdempotencyKey),
		slog.String("state", string(state)),
	)

	if state == healthDomain.StatePanic {
		logger.Info("service in panic, skipping call")
		return r.deferWork(ctx, logger, action, state, fallback)
	}

	timeout := policy.CallTimeout
	if state == healthDomain.StateDegraded && policy.DegradedTimeout > 0 {
		timeout = policy.DegradedTimeout
	}

	result, replayed, opErr, err := r.call(ctx, reg, action.IdempotencyKey, action.Payload, timeout)
	if err == nil {
		if !replayed {
			r.monitor.RecordSuccess(ctx, action.Service)
		}
		return fallbackDomain.Outcome{
			Status:         fallbackDomain.OutcomeCompleted,
			IdempotencyKey: action.IdempotencyKey,
			Result:         result,
			Replayed:       replayed,
			ServiceState:   string(r.monitor.State(action.Service)),
		}, nil
	}

	switch {
	case opErr != nil && apperrors.IsPermanent(opErr):
		logger.Warn("operation rejected permanently", slog.Any("error", opErr))
		return fallbackDomain.Outcome{}, opErr

	case ctx.Err() != nil:
		return fallbackDomain.Outcome{}, apperrors.Wrap(ctx.Err(), "action abandoned by caller")

	case opErr != nil:
		r.monitor.RecordFailure(ctx, action.Service, opErr)
		logger.Warn("operation failed, deferring", slog.Any("error", opErr))

	case apperrors.Is(err, apperrors.ErrLockTimeout):
		logger.Info("operation in progress elsewhere, deferring")

	default:
		// the ledger itself is unavailable; the queue still accepts the work
		logger.Error("idempotency ledger unavailable, deferring", slog.Any("error", err))
	}

	if state != healthDomain.StateDegraded {
		fallback = nil
	}
	return r.deferWork(ctx, logger, action, r.monitor.State(action.Service), fallback)
}

// deferWork runs the fallback, if any, and enqueues the real operation.
func (r *router) deferWork(
	ctx context.Context,
	logger *slog.Logger,
	action fallbackDomain.Action,
	state healthDomain.State,
	fallback fallbackDomain.Fallback,
) (fallbackDomain.Outcome, error) {
	outcome := fallbackDomain.Outcome{
		Status:         fallbackDomain.OutcomeAccepted,
		IdempotencyKey: action.IdempotencyKey,
		ServiceState:   string(state),
	}

	if fallback != nil {
		fbResult, err := fallback(fallbackDomain.WithIdempotencyKey(ctx, action.IdempotencyKey), action.Payload)
		if err != nil {
			logger.Error("fallback failed", slog.Any("error", err))
		} else {
			outcome.Status = fallbackDomain.OutcomeFallback
			outcome.FallbackResult = fbResult
		}
	}

	job, err := r.queue.Enqueue(ctx, queueDomain.EnqueueInput{
		Queue:          r.cfg.Routes[action.Service].Queue,
		JobType:        action.Kind,
		Service:        action.Service,
		IdempotencyKey: action.IdempotencyKey,
		Payload:        action.Payload,
		Priority:       action.Priority,
	})
	if err != nil {
		logger.Error("failed to enqueue deferred action", slog.Any("error", err))
		return fallbackDomain.Outcome{}, err
	}

	outcome.JobID = &job.ID
	logger.Info("action deferred",
		slog.String("job_id", job.ID.String()),
		slog.String("outcome", string(outcome.Status)),
	)
	return outcome, nil
}

func (r *router) JobHandler(kind string) queueUseCase.Handler {
	return func(ctx context.Context, job *queueDomain.Job, payload []byte) error {
		reg, ok := r.registry.Lookup(kind)
		if !ok {
			return apperrors.Permanent(apperrors.Wrapf(fallbackDomain.ErrUnknownKind, "kind %q", kind))
		}

		if until, inWindow := r.monitor.PanicWindowEnd(reg.Service); inWindow {
			return queueDomain.Defer(until, "service in minimum panic window")
		}

		_, replayed, opErr, err := r.call(ctx, reg, job.IdempotencyKey, payload, r.monitor.Policy(reg.Service).CallTimeout)
		switch {
		case err == nil:
			if !replayed {
				r.monitor.RecordSuccess(ctx, reg.Service)
			}
			return nil
		case opErr != nil:
			if ctx.Err() == nil || !errors.Is(opErr, context.Canceled) {
				r.monitor.RecordFailure(ctx, reg.Service, opErr)
			}
			return opErr
		case apperrors.Is(err, apperrors.ErrLockTimeout):
			return queueDomain.Defer(r.nowFn().Add(r.cfg.LockRetryDelay), "idempotency key in progress")
		default:
			return err
		}
	}
}

func (r *router) Handlers() map[string]queueUseCase.Handler {
	handlers := make(map[string]queueUseCase.Handler)
	for _, kind := range r.registry.Kinds() {
		handlers[kind] = r.JobHandler(kind)
	}
	return handlers
}
