package domain

import (
	"github.com/fieldops/resilience/internal/errors"
)

var (
	// ErrUnknownKind indicates an action kind without a registered operation.
	ErrUnknownKind = errors.Wrap(errors.ErrInvalidInput, "unknown action kind")

	// ErrServiceMismatch indicates an action naming a service other than the one its
	// kind is registered for.
	ErrServiceMismatch = errors.Wrap(errors.ErrInvalidInput, "action service does not match its kind")

	// ErrNoRoute indicates a service without a queue to defer its work to.
	ErrNoRoute = errors.Wrap(errors.ErrInvalidInput, "no queue route for service")

	// ErrDuplicateKind indicates a second registration for the same kind.
	ErrDuplicateKind = errors.Wrap(errors.ErrConflict, "action kind already registered")
)
