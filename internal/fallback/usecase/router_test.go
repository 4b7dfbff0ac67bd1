package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/resilience/internal/alert"
	auditRepository "github.com/fieldops/resilience/internal/audit/repository"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	"github.com/fieldops/resilience/internal/database"
	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	healthUseCase "github.com/fieldops/resilience/internal/health/usecase"
	idempotencyRepository "github.com/fieldops/resilience/internal/idempotency/repository"
	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	queueRepository "github.com/fieldops/resilience/internal/queue/repository"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

const (
	kindStamp = "tax.stamp_invoice"
	taxSvc    = "tax_authority"
)

// fakeProvider is a controllable external service.
type fakeProvider struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) operation(ctx context.Context, payload []byte) ([]byte, error) {
	p.calls.Add(1)
	p.mu.Lock()
	err, block := p.err, p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(`{"cae":"7412"}`), nil
}

type routerFixture struct {
	router   *router
	provider *fakeProvider
	monitor  healthUseCase.Monitor
	jobs     *queueRepository.MemoryJobRepository
	alerts   *alert.Recorder
}

func testHealthPolicy() healthDomain.Policy {
	return healthDomain.Policy{
		DegradedThreshold: 3,
		PanicThreshold:    5,
		RecoveryThreshold: 3,
		MinPanicDuration:  150 * time.Millisecond,
		CallTimeout:       time.Second,
		DegradedTimeout:   200 * time.Millisecond,
	}
}

func newRouterFixture(t *testing.T, queueName string) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditUC := auditUseCase.NewAuditLogUseCase(auditRepository.NewMemoryAuditLogRepository())

	f := &routerFixture{
		provider: &fakeProvider{},
		jobs:     queueRepository.NewMemoryJobRepository(),
		alerts:   alert.NewRecorder(),
	}

	ledger := idempotencyUseCase.NewLedger(idempotencyRepository.NewMemoryStore(), idempotencyUseCase.Config{
		DefaultTTL:   time.Hour,
		LockTTL:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  50 * time.Millisecond,
	}, logger)

	f.monitor = healthUseCase.NewMonitor(healthUseCase.Config{
		Services:      map[string]healthDomain.Policy{taxSvc: testHealthPolicy()},
		DefaultPolicy: testHealthPolicy(),
	}, auditUC, f.alerts, nil, logger)

	queue := queueUseCase.NewQueue(queueUseCase.Config{
		Queues: map[string]queueDomain.Policy{"tax": {MaxAttempts: 5}},
	}, database.NewNoopTxManager(), f.jobs, nil, auditUC, f.alerts, logger)

	registry := NewRegistry()
	require.NoError(t, registry.Register(kindStamp, Registration{
		Service:   taxSvc,
		Operation: f.provider.operation,
		Fallback: func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte(`{"draft":true}`), nil
		},
	}))

	f.router = newRouter(Config{
		Routes:         map[string]Route{taxSvc: {Queue: queueName, IdempotencyTTL: time.Hour}},
		LockRetryDelay: time.Second,
	}, registry, ledger, f.monitor, queue, logger, time.Now)
	return f
}

func stamp(key string) fallbackDomain.Action {
	return fallbackDomain.Action{
		Kind:           kindStamp,
		Payload:        []byte(`{"invoice_id":"inv-1"}`),
		IdempotencyKey: key,
		Priority:       10,
	}
}

func (f *routerFixture) health(t *testing.T) healthDomain.ServiceHealth {
	t.Helper()
	h, err := f.monitor.Health(taxSvc)
	require.NoError(t, err)
	return h
}

func (f *routerFixture) job(t *testing.T, outcome fallbackDomain.Outcome) *queueDomain.Job {
	t.Helper()
	require.NotNil(t, outcome.JobID)
	job, err := f.jobs.Get(context.Background(), *outcome.JobID)
	require.NoError(t, err)
	return job
}

func TestRouter_Perform_Normal(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_CompletesInline", func(t *testing.T) {
		f := newRouterFixture(t, "tax")

		outcome, err := f.router.Perform(ctx, stamp("invoice:1"), nil)

		require.NoError(t, err)
		assert.Equal(t, fallbackDomain.OutcomeCompleted, outcome.Status)
		assert.Equal(t, `{"cae":"7412"}`, string(outcome.Result))
		assert.False(t, outcome.Replayed)
		assert.Nil(t, outcome.JobID)
		assert.Equal(t, 1, f.health(t).ConsecutiveSuccesses)
	})

	t.Run("Success_ReplaysSameKey", func(t *testing.T) {
		f := newRouterFixture(t, "tax")

		_, err := f.router.Perform(ctx, stamp("invoice:1"), nil)
		require.NoError(t, err)
		outcome, err := f.router.Perform(ctx, stamp("invoice:1"), nil)

		require.NoError(t, err)
		assert.True(t, outcome.Replayed)
		assert.Equal(t, `{"cae":"7412"}`, string(outcome.Result))
		assert.Equal(t, int32(1), f.provider.calls.Load())
		assert.Equal(t, 1, f.health(t).ConsecutiveSuccesses, "replays say nothing about the service")
	})

	t.Run("TransientFailure_AcceptedAndQueued", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		f.provider.fail(errors.New("connection refused"))

		outcome, err := f.router.Perform(ctx, stamp("invoice:2"), nil)

		require.NoError(t, err)
		assert.Equal(t, fallbackDomain.OutcomeAccepted, outcome.Status)
		assert.Nil(t, outcome.FallbackResult, "no fallback while normal")
		job := f.job(t, outcome)
		assert.Equal(t, queueDomain.StatusPending, job.Status)
		assert.Zero(t, job.Attempts)
		assert.Equal(t, "invoice:2", job.IdempotencyKey)
		assert.Equal(t, kindStamp, job.JobType)
		assert.Equal(t, 10, job.Priority)
		assert.Equal(t, 1, f.health(t).ConsecutiveFailures)
	})

	t.Run("PermanentFailure_Propagates", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		f.provider.fail(apperrors.Permanent(errors.New("invalid tax id")))

		_, err := f.router.Perform(ctx, stamp("invoice:3"), nil)

		assert.ErrorIs(t, err, apperrors.ErrPermanent)
		assert.Zero(t, f.health(t).ConsecutiveFailures)
		counts, err := f.jobs.CountByStatus(ctx, "tax")
		require.NoError(t, err)
		assert.Zero(t, counts.Pending)
	})

	t.Run("GeneratesKey", func(t *testing.T) {
		f := newRouterFixture(t, "tax")

		outcome, err := f.router.Perform(ctx, stamp(""), nil)

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(outcome.IdempotencyKey, kindStamp+":"))
		assert.Greater(t, len(outcome.IdempotencyKey), len(kindStamp)+1)
	})

	t.Run("EnqueueFailurePropagates", func(t *testing.T) {
		f := newRouterFixture(t, "missing")
		f.provider.fail(errors.New("timeout"))

		_, err := f.router.Perform(ctx, stamp("invoice:4"), nil)

		assert.ErrorIs(t, err, queueDomain.ErrUnknownQueue)
	})
}

func TestRouter_Perform_InvalidAction(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")

	_, err := f.router.Perform(ctx, fallbackDomain.Action{Kind: "payments.charge"}, nil)
	assert.ErrorIs(t, err, fallbackDomain.ErrUnknownKind)

	action := stamp("invoice:1")
	action.Service = "payments"
	_, err = f.router.Perform(ctx, action, nil)
	assert.ErrorIs(t, err, fallbackDomain.ErrServiceMismatch)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Zero(t, f.provider.calls.Load())
}

func TestRouter_Perform_Degraded(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")
	f.provider.fail(errors.New("503 service unavailable"))

	for i := range 3 {
		_, err := f.router.Perform(ctx, stamp("warmup:"+string(rune('a'+i))), nil)
		require.NoError(t, err)
	}
	require.Equal(t, healthDomain.StateDegraded, f.health(t).State)

	calls := f.provider.calls.Load()
	outcome, err := f.router.Perform(ctx, stamp("invoice:degraded"), nil)

	require.NoError(t, err)
	assert.Equal(t, fallbackDomain.OutcomeFallback, outcome.Status)
	assert.Equal(t, `{"draft":true}`, string(outcome.FallbackResult))
	assert.Equal(t, calls+1, f.provider.calls.Load(), "one attempt, no inline retry")
	assert.Equal(t, queueDomain.StatusPending, f.job(t, outcome).Status)
}

func TestRouter_Perform_DegradedUsesShortTimeout(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")

	_, err := f.monitor.ForceState(ctx, taxSvc, healthDomain.StateDegraded, "ops", "slow provider")
	require.NoError(t, err)

	f.provider.mu.Lock()
	f.provider.block = make(chan struct{})
	f.provider.mu.Unlock()
	defer close(f.provider.block)

	start := time.Now()
	outcome, err := f.router.Perform(ctx, stamp("invoice:slow"), nil)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, fallbackDomain.OutcomeFallback, outcome.Status)
}

func TestRouter_Perform_PanicScenario(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")
	f.provider.fail(errors.New("connection reset"))

	for i := range 5 {
		_, err := f.router.Perform(ctx, stamp("failing:"+string(rune('a'+i))), nil)
		require.NoError(t, err)
	}
	require.Equal(t, healthDomain.StatePanic, f.health(t).State)
	assert.Len(t, f.alerts.BySeverity(alert.SeverityCritical), 1)

	calls := f.provider.calls.Load()
	outcome, err := f.router.Perform(ctx, stamp("invoice:during-panic"), nil)

	require.NoError(t, err)
	assert.Equal(t, fallbackDomain.OutcomeFallback, outcome.Status)
	assert.Equal(t, `{"draft":true}`, string(outcome.FallbackResult))
	assert.Equal(t, calls, f.provider.calls.Load(), "service not attempted in panic")
	job := f.job(t, outcome)
	assert.Zero(t, job.Attempts)

	handler := f.router.JobHandler(kindStamp)
	f.provider.fail(nil)

	err = handler(ctx, job, job.Payload)
	deferred, ok := queueDomain.AsDefer(err)
	require.True(t, ok, "jobs wait out the minimum panic window")
	assert.True(t, deferred.Until.After(time.Now()))
	assert.Equal(t, calls, f.provider.calls.Load())

	time.Sleep(testHealthPolicy().MinPanicDuration)

	for i := range 3 {
		probe := *job
		probe.IdempotencyKey = "probe:" + string(rune('a'+i))
		require.NoError(t, handler(ctx, &probe, probe.Payload))
	}
	assert.Equal(t, healthDomain.StateNormal, f.health(t).State)
}

func TestRouter_Perform_PanicWithoutFallback(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")
	_, err := f.monitor.ForceState(ctx, taxSvc, healthDomain.StatePanic, "ops", "provider incident")
	require.NoError(t, err)

	var explicit atomic.Bool
	outcome, err := f.router.Perform(ctx, stamp("invoice:1"), func(ctx context.Context, payload []byte) ([]byte, error) {
		explicit.Store(true)
		return nil, errors.New("draft store down")
	})

	require.NoError(t, err)
	assert.True(t, explicit.Load(), "explicit fallback overrides the registered one")
	assert.Equal(t, fallbackDomain.OutcomeAccepted, outcome.Status)
	assert.NotNil(t, outcome.JobID)
	assert.Zero(t, f.provider.calls.Load())
}

func TestRouter_Perform_LockTimeoutIsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t, "tax")

	release := make(chan struct{})
	f.provider.mu.Lock()
	f.provider.block = release
	f.provider.mu.Unlock()

	firstDone := make(chan fallbackDomain.Outcome, 1)
	go func() {
		outcome, _ := f.router.Perform(ctx, stamp("invoice:busy"), nil)
		firstDone <- outcome
	}()
	require.Eventually(t, func() bool { return f.provider.calls.Load() == 1 }, time.Second, time.Millisecond)

	outcome, err := f.router.Perform(ctx, stamp("invoice:busy"), nil)

	require.NoError(t, err)
	assert.Equal(t, fallbackDomain.OutcomeAccepted, outcome.Status)
	assert.NotNil(t, outcome.JobID)
	assert.Zero(t, f.health(t).ConsecutiveFailures, "contention is not a health failure")

	close(release)
	first := <-firstDone
	assert.Equal(t, fallbackDomain.OutcomeCompleted, first.Status)
	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestRouter_JobHandler(t *testing.T) {
	ctx := context.Background()

	newJob := func(key string) *queueDomain.Job {
		return &queueDomain.Job{JobType: kindStamp, Service: taxSvc, IdempotencyKey: key, Payload: []byte(`{}`)}
	}

	t.Run("Success_RecordsHealth", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		require.NoError(t, f.router.JobHandler(kindStamp)(ctx, newJob("k1"), []byte(`{}`)))
		assert.Equal(t, 1, f.health(t).ConsecutiveSuccesses)
	})

	t.Run("TransientFailure_Counted", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		f.provider.fail(errors.New("502 bad gateway"))

		err := f.router.JobHandler(kindStamp)(ctx, newJob("k1"), nil)

		assert.ErrorIs(t, err, apperrors.ErrTransient)
		assert.Equal(t, 1, f.health(t).ConsecutiveFailures)
	})

	t.Run("PermanentFailure", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		f.provider.fail(apperrors.Permanent(errors.New("duplicate invoice number")))

		err := f.router.JobHandler(kindStamp)(ctx, newJob("k1"), nil)

		assert.True(t, apperrors.IsPermanent(err))
		assert.Zero(t, f.health(t).ConsecutiveFailures)
	})

	t.Run("LockTimeout_Defers", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		release := make(chan struct{})
		f.provider.mu.Lock()
		f.provider.block = release
		f.provider.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = f.router.Perform(ctx, stamp("k1"), nil)
		}()
		require.Eventually(t, func() bool { return f.provider.calls.Load() == 1 }, time.Second, time.Millisecond)

		err := f.router.JobHandler(kindStamp)(ctx, newJob("k1"), nil)
		_, ok := queueDomain.AsDefer(err)
		assert.True(t, ok)

		close(release)
		<-done
	})

	t.Run("UnknownKind", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		err := f.router.JobHandler("maps.geocode")(ctx, newJob("k1"), nil)
		assert.True(t, apperrors.IsPermanent(err))
	})

	t.Run("Handlers", func(t *testing.T) {
		f := newRouterFixture(t, "tax")
		handlers := f.router.Handlers()
		assert.Len(t, handlers, 1)
		assert.Contains(t, handlers, kindStamp)
	})
}

func TestRegistry_Register(t *testing.T) {
	op := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }
	r := NewRegistry()

	require.NoError(t, r.Register("payments.charge", Registration{Service: "payments", Operation: op}))
	assert.ErrorIs(t, r.Register("payments.charge", Registration{Service: "payments", Operation: op}),
		fallbackDomain.ErrDuplicateKind)
	assert.ErrorIs(t, r.Register("bad kind", Registration{Service: "payments", Operation: op}),
		apperrors.ErrInvalidInput)
	assert.ErrorIs(t, r.Register("messaging.send", Registration{Service: "Messaging", Operation: op}),
		apperrors.ErrInvalidInput)
	assert.ErrorIs(t, r.Register("messaging.send", Registration{Service: "messaging"}),
		apperrors.ErrInvalidInput)

	require.NoError(t, r.Register("messaging.send", Registration{Service: "messaging", Operation: op}))
	assert.Equal(t, []string{"messaging.send", "payments.charge"}, r.Kinds())

	reg, ok := r.Lookup("messaging.send")
	assert.True(t, ok)
	assert.Equal(t, "messaging", reg.Service)
}
