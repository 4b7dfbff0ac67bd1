// Package dto provides data transfer objects for the service health endpoints.
package dto

import (
	validation "github.com/jellydator/validation"

	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// SetOverrideRequest forces the effective state of a service.
type SetOverrideRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// Validate checks if the override request is valid.
func (r *SetOverrideRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.State,
			validation.Required,
			validation.In(
				string(healthDomain.StateNormal),
				string(healthDomain.StateDegraded),
				string(healthDomain.StatePanic),
			),
		),
		validation.Field(&r.Reason,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 500),
		),
	)
}
