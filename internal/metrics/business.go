package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics records resilience metrics: operation outcomes and durations for the
// ledger, router and queue, circuit state transitions, and queue depth by status.
type BusinessMetrics interface {
	// RecordOperation records an operation with its status.
	// Domain examples: "idempotency", "fallback", "queue"
	// Status examples: "success", "error", "replayed", "fallback", "accepted"
	RecordOperation(ctx context.Context, domain, operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(ctx context.Context, domain, operation string, duration time.Duration, status string)

	// RecordTransition counts a circuit breaker state change for a service.
	RecordTransition(ctx context.Context, service, from, to string)

	// RecordQueueDepth sets the number of jobs of a queue in a given status.
	RecordQueueDepth(ctx context.Context, queue, status string, depth int64)
}

// businessMetrics implements BusinessMetrics using OpenTelemetry metrics.
type businessMetrics struct {
	operationCounter  metric.Int64Counter
	durationHisto     metric.Float64Histogram
	transitionCounter metric.Int64Counter
	queueDepth        metric.Int64Gauge
}

// NewBusinessMetrics creates a new BusinessMetrics implementation using the provided meter provider.
// The namespace parameter is used as a prefix for all metric names (e.g., "resilience").
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)

	operationCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of resilience operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of resilience operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	transitionCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_circuit_transitions_total", namespace),
		metric.WithDescription("Total number of service health state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}

	queueDepth, err := meter.Int64Gauge(
		fmt.Sprintf("%s_queue_jobs", namespace),
		metric.WithDescription("Number of queued jobs by queue and status"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	return &businessMetrics{
		operationCounter:  operationCounter,
		durationHisto:     durationHisto,
		transitionCounter: transitionCounter,
		queueDepth:        queueDepth,
	}, nil
}

func (b *businessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	b.operationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

func (b *businessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	b.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

func (b *businessMetrics) RecordTransition(ctx context.Context, service, from, to string) {
	b.transitionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

func (b *businessMetrics) RecordQueueDepth(ctx context.Context, queue, status string, depth int64) {
	b.queueDepth.Record(ctx, depth,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("status", status),
		),
	)
}

// NoOpBusinessMetrics is a no-op implementation of BusinessMetrics for when metrics are disabled.
type NoOpBusinessMetrics struct{}

// NewNoOpBusinessMetrics creates a no-op BusinessMetrics implementation.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return &NoOpBusinessMetrics{}
}

func (n *NoOpBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
}

func (n *NoOpBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
}

func (n *NoOpBusinessMetrics) RecordTransition(ctx context.Context, service, from, to string) {}

func (n *NoOpBusinessMetrics) RecordQueueDepth(ctx context.Context, queue, status string, depth int64) {
}
