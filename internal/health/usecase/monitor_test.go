package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/resilience/internal/alert"
	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	auditRepository "github.com/fieldops/resilience/internal/audit/repository"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	apperrors "github.com/fieldops/resilience/internal/errors"
	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	"github.com/fieldops/resilience/internal/metrics"
)

type mockBusinessMetrics struct {
	metrics.NoOpBusinessMetrics
	mock.Mock
}

func (m *mockBusinessMetrics) RecordTransition(ctx context.Context, service, from, to string) {
	m.Called(ctx, service, from, to)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testPolicy = healthDomain.Policy{
	DegradedThreshold: 3,
	PanicThreshold:    5,
	RecoveryThreshold: 3,
	MinPanicDuration:  5 * time.Minute,
	CallTimeout:       10 * time.Second,
	DegradedTimeout:   3 * time.Second,
}

type fixture struct {
	monitor  *monitor
	clock    *clock
	alerts   *alert.Recorder
	auditLog auditUseCase.AuditLogUseCase
}

func newFixture(t *testing.T, m metrics.BusinessMetrics) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	recorder := alert.NewRecorder()
	auditLog := auditUseCase.NewAuditLogUseCase(auditRepository.NewMemoryAuditLogRepository())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mon := newMonitor(Config{
		Services:      map[string]healthDomain.Policy{"tax_authority": testPolicy, "payments": testPolicy},
		DefaultPolicy: testPolicy,
	}, auditLog, recorder, m, logger, c.Now)

	return &fixture{monitor: mon, clock: c, alerts: recorder, auditLog: auditLog}
}

var errTimeout = apperrors.Transient(errors.New("timeout"))

func TestMonitor_PanicScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for i := 0; i < 5; i++ {
		f.monitor.RecordFailure(ctx, "tax_authority", errTimeout)
	}
	assert.Equal(t, healthDomain.StatePanic, f.monitor.State("tax_authority"))
	assert.Len(t, f.alerts.BySeverity(alert.SeverityWarning), 1)
	assert.Len(t, f.alerts.BySeverity(alert.SeverityCritical), 1)

	until, ok := f.monitor.PanicWindowEnd("tax_authority")
	assert.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), until)

	f.clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		f.monitor.RecordSuccess(ctx, "tax_authority")
	}
	assert.Equal(t, healthDomain.StatePanic, f.monitor.State("tax_authority"))

	f.clock.Advance(5 * time.Minute)
	for i := 0; i < 3; i++ {
		f.monitor.RecordSuccess(ctx, "tax_authority")
	}
	assert.Equal(t, healthDomain.StateNormal, f.monitor.State("tax_authority"))
	assert.Len(t, f.alerts.BySeverity(alert.SeverityInfo), 1)
}

func TestMonitor_PermanentErrorsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for i := 0; i < 10; i++ {
		f.monitor.RecordOutcome(ctx, "payments", apperrors.Permanent(errors.New("card declined")))
		f.monitor.RecordFailure(ctx, "payments", apperrors.Permanent(errors.New("card declined")))
	}

	h, err := f.monitor.Health("payments")
	require.NoError(t, err)
	assert.Equal(t, healthDomain.StateNormal, h.State)
	assert.Zero(t, h.ConsecutiveFailures)
}

func TestMonitor_RecordOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.monitor.RecordOutcome(ctx, "payments", errors.New("connection reset"))
	h, _ := f.monitor.Health("payments")
	assert.Equal(t, 1, h.ConsecutiveFailures)

	f.monitor.RecordOutcome(ctx, "payments", nil)
	h, _ = f.monitor.Health("payments")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, 1, h.ConsecutiveSuccesses)
}

func TestMonitor_ConcurrentFailuresTransitionOnce(t *testing.T) {
	ctx := context.Background()
	m := &mockBusinessMetrics{}
	m.On("RecordTransition", ctx, "tax_authority", "normal", "degraded").Once()
	m.On("RecordTransition", ctx, "tax_authority", "degraded", "panic").Once()
	f := newFixture(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.monitor.RecordFailure(ctx, "tax_authority", errTimeout)
		}()
	}
	wg.Wait()

	h, err := f.monitor.Health("tax_authority")
	require.NoError(t, err)
	assert.Equal(t, 100, h.ConsecutiveFailures)
	assert.Equal(t, healthDomain.StatePanic, h.State)
	assert.Len(t, f.alerts.BySeverity(alert.SeverityCritical), 1)
	m.AssertExpectations(t)
}

func TestMonitor_UnknownService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.Equal(t, healthDomain.StateNormal, f.monitor.State("maps"))
	_, err := f.monitor.Health("maps")
	assert.ErrorIs(t, err, healthDomain.ErrServiceNotFound)

	f.monitor.RecordFailure(ctx, "maps", errTimeout)
	h, err := f.monitor.Health("maps")
	require.NoError(t, err)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.Equal(t, testPolicy, f.monitor.Policy("maps"))

	names := []string{}
	for _, s := range f.monitor.List() {
		names = append(names, s.ServiceName)
	}
	assert.Equal(t, []string{"maps", "payments", "tax_authority"}, names)
}

func TestMonitor_Override(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_ForceAndClear", func(t *testing.T) {
		f := newFixture(t, nil)

		h, err := f.monitor.ForceState(ctx, "payments", healthDomain.StatePanic, "ops@example.com", "provider incident")
		require.NoError(t, err)
		assert.Equal(t, healthDomain.StatePanic, h.State)
		assert.Equal(t, healthDomain.StateNormal, h.AutoState)
		require.NotNil(t, h.Override)
		assert.Equal(t, "ops@example.com", h.Override.Actor)

		for i := 0; i < 3; i++ {
			f.monitor.RecordFailure(ctx, "payments", errTimeout)
		}
		assert.Equal(t, healthDomain.StatePanic, f.monitor.State("payments"))

		h, err = f.monitor.ClearOverride(ctx, "payments", "ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, healthDomain.StateDegraded, h.State)
		assert.Nil(t, h.Override)

		logs, err := f.auditLog.List(ctx, 0, 10, nil, nil)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		actions := []auditDomain.Action{logs[0].Action, logs[1].Action}
		assert.ElementsMatch(t,
			[]auditDomain.Action{auditDomain.ActionHealthOverrideSet, auditDomain.ActionHealthOverrideClear},
			actions)
	})

	t.Run("Error_InvalidState", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.monitor.ForceState(ctx, "payments", "open", "ops", "x")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("Error_UnknownService", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.monitor.ForceState(ctx, "maps", healthDomain.StatePanic, "ops", "x")
		assert.ErrorIs(t, err, healthDomain.ErrServiceNotFound)
	})

	t.Run("Error_MissingActorIsNotApplied", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.monitor.ForceState(ctx, "payments", healthDomain.StatePanic, "", "x")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Equal(t, healthDomain.StateNormal, f.monitor.State("payments"))
	})

	t.Run("Error_ClearWithoutOverride", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.monitor.ClearOverride(ctx, "payments", "ops")
		assert.ErrorIs(t, err, healthDomain.ErrNoOverride)
	})
}
