package domain

import (
	"github.com/fieldops/resilience/internal/errors"
)

var (
	// ErrServiceNotFound indicates the service is not monitored.
	ErrServiceNotFound = errors.Wrap(errors.ErrNotFound, "service not found")

	// ErrInvalidState indicates an unknown state in an override request.
	ErrInvalidState = errors.Wrap(errors.ErrInvalidInput, "invalid health state")

	// ErrNoOverride indicates ClearOverride was called on a service without one.
	ErrNoOverride = errors.Wrap(errors.ErrConflict, "service has no override")
)
