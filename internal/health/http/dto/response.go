package dto

import (
	"time"

	healthDomain "github.com/fieldops/resilience/internal/health/domain"
)

// OverrideResponse describes an operator override.
type OverrideResponse struct {
	State  string    `json:"state"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	SetAt  time.Time `json:"set_at"`
}

// ServiceHealthResponse is the API view of a service's health.
type ServiceHealthResponse struct {
	Service              string            `json:"service"`
	State                string            `json:"state"`
	AutoState            string            `json:"auto_state"`
	ConsecutiveFailures  int               `json:"consecutive_failures"`
	ConsecutiveSuccesses int               `json:"consecutive_successes"`
	PanicEnteredAt       *time.Time        `json:"panic_entered_at,omitempty"`
	LastError            string            `json:"last_error,omitempty"`
	LastTransitionAt     time.Time         `json:"last_transition_at"`
	Override             *OverrideResponse `json:"override,omitempty"`
}

// ListServiceHealthResponse wraps the health of every monitored service.
type ListServiceHealthResponse struct {
	Data []ServiceHealthResponse `json:"data"`
}

// MapServiceHealthToResponse converts a snapshot to its API representation.
func MapServiceHealthToResponse(h healthDomain.ServiceHealth) ServiceHealthResponse {
	resp := ServiceHealthResponse{
		Service:              h.ServiceName,
		State:                string(h.State),
		AutoState:            string(h.AutoState),
		ConsecutiveFailures:  h.ConsecutiveFailures,
		ConsecutiveSuccesses: h.ConsecutiveSuccesses,
		PanicEnteredAt:       h.PanicEnteredAt,
		LastError:            h.LastError,
		LastTransitionAt:     h.LastTransitionAt,
	}
	if h.Override != nil {
		resp.Override = &OverrideResponse{
			State:  string(h.Override.State),
			Actor:  h.Override.Actor,
			Reason: h.Override.Reason,
			SetAt:  h.Override.SetAt,
		}
	}
	return resp
}

// MapServiceHealthListToResponse converts snapshots to the list response.
func MapServiceHealthListToResponse(list []healthDomain.ServiceHealth) ListServiceHealthResponse {
	data := make([]ServiceHealthResponse, 0, len(list))
	for _, h := range list {
		data = append(data, MapServiceHealthToResponse(h))
	}
	return ListServiceHealthResponse{Data: data}
}
