package domain

import (
	"github.com/fieldops/resilience/internal/errors"
)

var (
	// ErrEntityNotFound indicates no local entity with the given id.
	ErrEntityNotFound = errors.Wrap(errors.ErrNotFound, "entity not found")

	// ErrEntityInConflict rejects local writes until the conflict is resolved.
	ErrEntityInConflict = errors.Wrap(errors.ErrSyncConflict, "entity has an unresolved conflict")

	// ErrNotInConflict indicates a resolution request for an entity without conflict.
	ErrNotInConflict = errors.Wrap(errors.ErrConflict, "entity is not in conflict")

	// ErrUnresolvable indicates the deterministic policy cannot pick a side.
	ErrUnresolvable = errors.Wrap(errors.ErrSyncConflict, "conflict needs an operator decision")

	// ErrSyncInProgress rejects a sync cycle while another one runs.
	ErrSyncInProgress = errors.Wrap(errors.ErrConflict, "sync already in progress")

	// ErrInvalidStrategy indicates an unknown resolution strategy.
	ErrInvalidStrategy = errors.Wrap(errors.ErrInvalidInput, "invalid resolution strategy")
)
