package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of mutation sent to the server.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// EntryStatus of a queued local change.
type EntryStatus string

const (
	// EntryQueued waits for the next push.
	EntryQueued EntryStatus = "queued"
	// EntryBlocked belongs to an entity in conflict and waits for resolution.
	EntryBlocked EntryStatus = "blocked"
)

// QueueEntry is one local change waiting for the server's acknowledgement. Entries
// are pushed in Seq order.
type QueueEntry struct {
	Seq            uint64      `json:"seq"`
	ID             uuid.UUID   `json:"id"`
	EntityType     string      `json:"entity_type"`
	EntityID       uuid.UUID   `json:"entity_id"`
	Operation      Operation   `json:"operation"`
	ChangeSet      ChangeSet   `json:"change_set"`
	IdempotencyKey string      `json:"idempotency_key"`
	Attempts       int         `json:"attempts"`
	Status         EntryStatus `json:"status"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewQueueEntry creates a queued entry with a fresh idempotency key. Seq is assigned
// by the store.
func NewQueueEntry(entity *Entity, op Operation, changes ChangeSet, now time.Time) *QueueEntry {
	return &QueueEntry{
		ID:             uuid.Must(uuid.NewV7()),
		EntityType:     entity.EntityType,
		EntityID:       entity.ID,
		Operation:      op,
		ChangeSet:      changes,
		IdempotencyKey: entity.EntityType + ":" + uuid.Must(uuid.NewV7()).String(),
		Status:         EntryQueued,
		CreatedAt:      now,
	}
}
