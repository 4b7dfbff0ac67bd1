// Package alert delivers operational alerts for circuit transitions, dead letters and
// overflow drops. Alerts go to the structured log and, optionally, to a pub/sub topic.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	apperrors "github.com/fieldops/resilience/internal/errors"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is the payload published to alert sinks.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Alerter sends an alert to operators.
type Alerter interface {
	SendAlert(ctx context.Context, severity Severity, title, message string) error
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates an alerter backed by logger.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// SendAlert logs the alert at a level matching its severity.
func (l *LogAlerter) SendAlert(ctx context.Context, severity Severity, title, message string) error {
	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	l.logger.Log(ctx, level, "alert",
		slog.String("severity", string(severity)),
		slog.String("title", title),
		slog.String("message", message),
	)
	return nil
}

// TopicAlerter publishes alerts as JSON messages to a gocloud.dev pub/sub topic.
type TopicAlerter struct {
	topic *pubsub.Topic
}

// NewTopicAlerter wraps an already opened topic.
func NewTopicAlerter(topic *pubsub.Topic) *TopicAlerter {
	return &TopicAlerter{topic: topic}
}

// OpenTopicAlerter opens the topic at url (e.g. "mem://alerts").
func OpenTopicAlerter(ctx context.Context, url string) (*TopicAlerter, error) {
	topic, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert topic: %w", err)
	}
	return &TopicAlerter{topic: topic}, nil
}

// SendAlert publishes the alert. Severity and title are also set as message metadata
// so subscribers can route without decoding the body.
func (t *TopicAlerter) SendAlert(ctx context.Context, severity Severity, title, message string) error {
	body, err := json.Marshal(Alert{
		Severity:  severity,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal alert")
	}

	err = t.topic.Send(ctx, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"severity": string(severity),
			"title":    title,
		},
	})
	if err != nil {
		return apperrors.Wrap(err, "failed to publish alert")
	}
	return nil
}

// Shutdown flushes and closes the topic.
func (t *TopicAlerter) Shutdown(ctx context.Context) error {
	return t.topic.Shutdown(ctx)
}

// MultiAlerter fans an alert out to every sink. All sinks are attempted.
type MultiAlerter struct {
	sinks []Alerter
}

// NewMultiAlerter creates a fan-out alerter.
func NewMultiAlerter(sinks ...Alerter) *MultiAlerter {
	return &MultiAlerter{sinks: sinks}
}

func (m *MultiAlerter) SendAlert(ctx context.Context, severity Severity, title, message string) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.SendAlert(ctx, severity, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return apperrors.Join(errs...)
}

// Recorder keeps alerts in memory. Used by the CLI dry runs and in tests.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendAlert(ctx context.Context, severity Severity, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{
		Severity:  severity,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// BySeverity returns the recorded alerts with the given severity.
func (r *Recorder) BySeverity(severity Severity) []Alert {
	var out []Alert
	for _, a := range r.Alerts() {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}
