// Package dto provides data transfer objects for the action dispatch endpoint.
package dto

import (
	"encoding/json"

	validation "github.com/jellydator/validation"

	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// PerformActionRequest asks the router to perform a registered action.
type PerformActionRequest struct {
	Kind           string          `json:"kind"`
	Service        string          `json:"service,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       int             `json:"priority"`
}

// Validate checks if the action request is valid.
func (r *PerformActionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Kind, validation.Required, customValidation.NoWhitespace, validation.Length(1, 100)),
		validation.Field(&r.Service, customValidation.Slug),
		validation.Field(&r.IdempotencyKey, customValidation.IdempotencyKey),
		validation.Field(&r.Priority, validation.Min(0), validation.Max(100)),
	)
}

// ToAction converts the request into a domain action.
func (r *PerformActionRequest) ToAction() fallbackDomain.Action {
	return fallbackDomain.Action{
		Service:        r.Service,
		Kind:           r.Kind,
		Payload:        []byte(r.Payload),
		IdempotencyKey: r.IdempotencyKey,
		Priority:       r.Priority,
	}
}
