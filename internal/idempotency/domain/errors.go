package domain

import (
	"github.com/fieldops/resilience/internal/errors"
)

var (
	// ErrRecordNotFound indicates no record exists for the key.
	ErrRecordNotFound = errors.Wrap(errors.ErrNotFound, "idempotency record not found")

	// ErrLockLost indicates the caller's lock token no longer owns the record, usually
	// because its lease expired and another caller took over.
	ErrLockLost = errors.Wrap(errors.ErrConflict, "idempotency lock lost")

	// ErrInvalidKey indicates an empty or oversized idempotency key.
	ErrInvalidKey = errors.Wrap(errors.ErrInvalidInput, "invalid idempotency key")
)
