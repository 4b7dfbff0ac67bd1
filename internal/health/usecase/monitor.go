package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldops/resilience/internal/alert"
	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	apperrors "github.com/fieldops/resilience/internal/errors"
	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	"github.com/fieldops/resilience/internal/metrics"
)

// Config lists the monitored services. Services reported without a policy are
// registered on first use with DefaultPolicy.
type Config struct {
	Services      map[string]healthDomain.Policy
	DefaultPolicy healthDomain.Policy
}

type serviceEntry struct {
	policy   healthDomain.Policy
	snapshot atomic.Pointer[healthDomain.ServiceHealth]
}

// monitor implements Monitor. Every mutation is a compare-and-swap of an immutable
// snapshot so increment-and-compare never races.
type monitor struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	cfg      Config

	auditLogUseCase auditUseCase.AuditLogUseCase
	alerter         alert.Alerter
	metrics         metrics.BusinessMetrics
	logger          *slog.Logger
	nowFn           func() time.Time
}

// NewMonitor creates a Monitor with every configured service in the normal state.
func NewMonitor(
	cfg Config,
	auditLogUseCase auditUseCase.AuditLogUseCase,
	alerter alert.Alerter,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) Monitor {
	return newMonitor(cfg, auditLogUseCase, alerter, businessMetrics, logger, time.Now)
}

func newMonitor(
	cfg Config,
	auditLogUseCase auditUseCase.AuditLogUseCase,
	alerter alert.Alerter,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
	nowFn func() time.Time,
) *monitor {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	m := &monitor{
		services:        make(map[string]*serviceEntry, len(cfg.Services)),
		cfg:             cfg,
		auditLogUseCase: auditLogUseCase,
		alerter:         alerter,
		metrics:         businessMetrics,
		logger:          logger,
		nowFn:           nowFn,
	}
	for name, policy := range cfg.Services {
		m.services[name] = m.newEntry(name, policy)
	}
	return m
}

func (m *monitor) newEntry(name string, policy healthDomain.Policy) *serviceEntry {
	e := &serviceEntry{policy: policy}
	initial := healthDomain.NewServiceHealth(name, m.nowFn())
	e.snapshot.Store(&initial)
	return e
}

func (m *monitor) lookup(service string) (*serviceEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.services[service]
	return e, ok
}

func (m *monitor) entry(service string) *serviceEntry {
	if e, ok := m.lookup(service); ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.services[service]; ok {
		return e
	}
	e := m.newEntry(service, m.cfg.DefaultPolicy)
	m.services[service] = e
	return e
}

// update applies fn until the compare-and-swap succeeds and returns both snapshots.
func (m *monitor) update(
	e *serviceEntry,
	fn func(healthDomain.ServiceHealth) healthDomain.ServiceHealth,
) (before, after healthDomain.ServiceHealth) {
	for {
		current := e.snapshot.Load()
		next := fn(*current)
		if e.snapshot.CompareAndSwap(current, &next) {
			return *current, next
		}
	}
}

func (m *monitor) RecordSuccess(ctx context.Context, service string) {
	e := m.entry(service)
	before, after := m.update(e, func(h healthDomain.ServiceHealth) healthDomain.ServiceHealth {
		return h.OnSuccess(e.policy, m.nowFn())
	})
	m.onTransition(ctx, before, after)
}

func (m *monitor) RecordFailure(ctx context.Context, service string, err error) {
	if err == nil || apperrors.IsPermanent(err) {
		return
	}
	e := m.entry(service)
	before, after := m.update(e, func(h healthDomain.ServiceHealth) healthDomain.ServiceHealth {
		return h.OnFailure(e.policy, err.Error(), m.nowFn())
	})
	m.onTransition(ctx, before, after)
}

// RecordOutcome treats unclassified errors as transient.
func (m *monitor) RecordOutcome(ctx context.Context, service string, err error) {
	switch {
	case err == nil:
		m.RecordSuccess(ctx, service)
	case apperrors.IsPermanent(err):
		return
	default:
		m.RecordFailure(ctx, service, err)
	}
}

func (m *monitor) State(service string) healthDomain.State {
	e, ok := m.lookup(service)
	if !ok {
		return healthDomain.StateNormal
	}
	return e.snapshot.Load().State
}

func (m *monitor) Health(service string) (healthDomain.ServiceHealth, error) {
	e, ok := m.lookup(service)
	if !ok {
		return healthDomain.ServiceHealth{}, healthDomain.ErrServiceNotFound
	}
	return *e.snapshot.Load(), nil
}

func (m *monitor) List() []healthDomain.ServiceHealth {
	m.mu.RLock()
	out := make([]healthDomain.ServiceHealth, 0, len(m.services))
	for _, e := range m.services {
		out = append(out, *e.snapshot.Load())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}

func (m *monitor) Policy(service string) healthDomain.Policy {
	if e, ok := m.lookup(service); ok {
		return e.policy
	}
	return m.cfg.DefaultPolicy
}

func (m *monitor) PanicWindowEnd(service string) (time.Time, bool) {
	e, ok := m.lookup(service)
	if !ok {
		return time.Time{}, false
	}
	return e.snapshot.Load().PanicWindowEnd(e.policy, m.nowFn())
}

func (m *monitor) ForceState(
	ctx context.Context,
	service string,
	state healthDomain.State,
	actor, reason string,
) (healthDomain.ServiceHealth, error) {
	if !state.Valid() {
		return healthDomain.ServiceHealth{}, healthDomain.ErrInvalidState
	}
	e, ok := m.lookup(service)
	if !ok {
		return healthDomain.ServiceHealth{}, healthDomain.ErrServiceNotFound
	}

	err := m.auditLogUseCase.Record(ctx, actor, auditDomain.ActionHealthOverrideSet, service, map[string]any{
		"state":  string(state),
		"reason": reason,
	})
	if err != nil {
		return healthDomain.ServiceHealth{}, err
	}

	now := m.nowFn()
	override := &healthDomain.Override{State: state, Actor: actor, Reason: reason, SetAt: now}
	before, after := m.update(e, func(h healthDomain.ServiceHealth) healthDomain.ServiceHealth {
		return h.WithOverride(override, now)
	})

	m.logger.Warn("health override set",
		slog.String("service", service),
		slog.String("state", string(state)),
		slog.String("actor", actor),
		slog.String("reason", reason),
	)
	m.onTransition(ctx, before, after)
	return after, nil
}

func (m *monitor) ClearOverride(
	ctx context.Context,
	service, actor string,
) (healthDomain.ServiceHealth, error) {
	e, ok := m.lookup(service)
	if !ok {
		return healthDomain.ServiceHealth{}, healthDomain.ErrServiceNotFound
	}
	current := e.snapshot.Load()
	if current.Override == nil {
		return healthDomain.ServiceHealth{}, healthDomain.ErrNoOverride
	}

	err := m.auditLogUseCase.Record(ctx, actor, auditDomain.ActionHealthOverrideClear, service, map[string]any{
		"previous_state": string(current.Override.State),
		"auto_state":     string(current.AutoState),
	})
	if err != nil {
		return healthDomain.ServiceHealth{}, err
	}

	now := m.nowFn()
	before, after := m.update(e, func(h healthDomain.ServiceHealth) healthDomain.ServiceHealth {
		return h.WithOverride(nil, now)
	})

	m.logger.Info("health override cleared",
		slog.String("service", service),
		slog.String("actor", actor),
		slog.String("state", string(after.State)),
	)
	m.onTransition(ctx, before, after)
	return after, nil
}

func (m *monitor) onTransition(ctx context.Context, before, after healthDomain.ServiceHealth) {
	if before.State == after.State {
		return
	}

	m.logger.Warn("service health transition",
		slog.String("service", after.ServiceName),
		slog.String("from", string(before.State)),
		slog.String("to", string(after.State)),
		slog.Int("consecutive_failures", after.ConsecutiveFailures),
		slog.Int("consecutive_successes", after.ConsecutiveSuccesses),
		slog.String("last_error", after.LastError),
	)
	m.metrics.RecordTransition(ctx, after.ServiceName, string(before.State), string(after.State))

	if m.alerter == nil {
		return
	}
	severity := alert.SeverityInfo
	switch after.State {
	case healthDomain.StateDegraded:
		severity = alert.SeverityWarning
	case healthDomain.StatePanic:
		severity = alert.SeverityCritical
	}
	title := fmt.Sprintf("%s is %s", after.ServiceName, after.State)
	message := fmt.Sprintf("%s -> %s after %d consecutive failures, %d consecutive successes",
		before.State, after.State, after.ConsecutiveFailures, after.ConsecutiveSuccesses)
	if after.Override != nil {
		message = fmt.Sprintf("%s -> %s forced by %s: %s",
			before.State, after.State, after.Override.Actor, after.Override.Reason)
	}
	if err := m.alerter.SendAlert(ctx, severity, title, message); err != nil {
		m.logger.Error("failed to send health alert",
			slog.String("service", after.ServiceName),
			slog.Any("error", err),
		)
	}
}
