package usecase

import (
	"context"
	"time"

	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	"github.com/fieldops/resilience/internal/metrics"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

// routerWithMetrics decorates Router with metrics instrumentation.
type routerWithMetrics struct {
	next    Router
	metrics metrics.BusinessMetrics
}

// NewRouterWithMetrics wraps a Router with metrics recording.
func NewRouterWithMetrics(next Router, m metrics.BusinessMetrics) Router {
	return &routerWithMetrics{next: next, metrics: m}
}

// Perform records the outcome status (completed, fallback, accepted) or error.
func (r *routerWithMetrics) Perform(
	ctx context.Context,
	action fallbackDomain.Action,
	fallback fallbackDomain.Fallback,
) (fallbackDomain.Outcome, error) {
	start := time.Now()
	outcome, err := r.next.Perform(ctx, action, fallback)

	status := string(outcome.Status)
	if err != nil {
		status = "error"
	}
	r.metrics.RecordOperation(ctx, "fallback", "perform", status)
	r.metrics.RecordDuration(ctx, "fallback", "perform", time.Since(start), status)
	return outcome, err
}

func (r *routerWithMetrics) JobHandler(kind string) queueUseCase.Handler {
	return r.next.JobHandler(kind)
}

func (r *routerWithMetrics) Handlers() map[string]queueUseCase.Handler {
	return r.next.Handlers()
}
