package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tx is one atomic unit of work on the local replica. Either every write made
// through it is persisted or none is.
type Tx interface {
	GetEntity(id uuid.UUID) (*Entity, error)
	FindByServerID(serverID string) (*Entity, error)
	PutEntity(entity *Entity) error
	// ListEntities returns entities with status, or all of them when status is empty.
	ListEntities(status SyncStatus) ([]*Entity, error)

	// AppendEntry assigns the next sequence number to entry and stores it.
	AppendEntry(entry *QueueEntry) error
	PutEntry(entry *QueueEntry) error
	DeleteEntry(seq uint64) error
	// ListEntries returns every queued entry in sequence order.
	ListEntries() ([]*QueueEntry, error)
	// ListEntityEntries returns the entries of entityID in sequence order.
	ListEntityEntries(entityID uuid.UUID) ([]*QueueEntry, error)

	Watermark() (time.Time, error)
	SetWatermark(t time.Time) error
}
