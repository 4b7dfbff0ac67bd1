// Package domain defines per-service health, the circuit breaker state machine and
// operator overrides.
package domain

import (
	"time"
)

// State is the effective routing state of an external service.
type State string

const (
	StateNormal   State = "normal"
	StateDegraded State = "degraded"
	StatePanic    State = "panic"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNormal, StateDegraded, StatePanic:
		return true
	}
	return false
}

// Policy holds the breaker thresholds and call timeouts of one service.
type Policy struct {
	DegradedThreshold int
	PanicThreshold    int
	RecoveryThreshold int
	MinPanicDuration  time.Duration
	CallTimeout       time.Duration
	DegradedTimeout   time.Duration
}

// Override pins the effective state of a service until cleared by an operator.
type Override struct {
	State  State
	Actor  string
	Reason string
	SetAt  time.Time
}

// ServiceHealth is an immutable snapshot of a service's health. Transitions return
// a new value and never modify the receiver.
type ServiceHealth struct {
	ServiceName          string
	State                State
	AutoState            State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	PanicEnteredAt       *time.Time
	LastError            string
	LastTransitionAt     time.Time
	Override             *Override
}

// NewServiceHealth returns the initial normal snapshot.
func NewServiceHealth(name string, now time.Time) ServiceHealth {
	return ServiceHealth{
		ServiceName:      name,
		State:            StateNormal,
		AutoState:        StateNormal,
		LastTransitionAt: now,
	}
}

// OnSuccess applies a successful call. Degraded recovers after RecoveryThreshold
// successes; panic additionally requires MinPanicDuration since it was entered.
func (h ServiceHealth) OnSuccess(p Policy, now time.Time) ServiceHealth {
	h.ConsecutiveFailures = 0
	h.ConsecutiveSuccesses++

	switch h.AutoState {
	case StateDegraded:
		if h.ConsecutiveSuccesses >= p.RecoveryThreshold {
			h.AutoState = StateNormal
		}
	case StatePanic:
		if h.ConsecutiveSuccesses >= p.RecoveryThreshold &&
			h.PanicEnteredAt != nil &&
			now.Sub(*h.PanicEnteredAt) >= p.MinPanicDuration {
			h.AutoState = StateNormal
			h.PanicEnteredAt = nil
		}
	}

	return h.settle(now)
}

// OnFailure applies a transient failure. The automatic state only moves towards
// panic on failures.
func (h ServiceHealth) OnFailure(p Policy, cause string, now time.Time) ServiceHealth {
	h.ConsecutiveSuccesses = 0
	h.ConsecutiveFailures++
	h.LastError = cause

	switch {
	case h.ConsecutiveFailures >= p.PanicThreshold:
		if h.AutoState != StatePanic {
			h.AutoState = StatePanic
			entered := now
			h.PanicEnteredAt = &entered
		}
	case h.ConsecutiveFailures >= p.DegradedThreshold:
		if h.AutoState == StateNormal {
			h.AutoState = StateDegraded
		}
	}

	return h.settle(now)
}

// WithOverride pins the effective state. A nil override returns control to the
// automatic state.
func (h ServiceHealth) WithOverride(o *Override, now time.Time) ServiceHealth {
	h.Override = o
	return h.settle(now)
}

// PanicWindowEnd reports until when calls to the service must not be attempted.
// ok is false when the service is not in panic or the minimum window already elapsed.
// A forced panic holds for MinPanicDuration from now.
func (h ServiceHealth) PanicWindowEnd(p Policy, now time.Time) (until time.Time, ok bool) {
	if h.State != StatePanic {
		return time.Time{}, false
	}
	if h.Override != nil {
		return now.Add(p.MinPanicDuration), true
	}
	if h.PanicEnteredAt == nil {
		return time.Time{}, false
	}
	end := h.PanicEnteredAt.Add(p.MinPanicDuration)
	if !now.Before(end) {
		return time.Time{}, false
	}
	return end, true
}

func (h ServiceHealth) settle(now time.Time) ServiceHealth {
	effective := h.AutoState
	if h.Override != nil {
		effective = h.Override.State
	}
	if effective != h.State {
		h.State = effective
		h.LastTransitionAt = now
	}
	return h
}
