// Package domain defines the local replica kept on the device, the queue of local
// changes waiting for the server of record and the conflict resolution vocabulary.
package domain

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tells whether a local entity matches the server of record.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// FieldChange is one field edit made on the device.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeSet maps field names to their local edit.
type ChangeSet map[string]FieldChange

// Values returns the new value of every changed field.
func (c ChangeSet) Values() map[string]any {
	out := make(map[string]any, len(c))
	for field, change := range c {
		out[field] = change.New
	}
	return out
}

// Merge folds next into c field by field. The first Old of a field is kept so the
// change set always describes the difference from the last synced value. A field
// edited back to its original value leaves the change set.
func (c ChangeSet) Merge(next ChangeSet) ChangeSet {
	out := make(ChangeSet, len(c)+len(next))
	for field, change := range c {
		out[field] = change
	}
	for field, change := range next {
		if prev, ok := out[field]; ok {
			change.Old = prev.Old
		}
		if Equal(change.Old, change.New) {
			delete(out, field)
			continue
		}
		out[field] = change
	}
	return out
}

// Entity is the local copy of a business record.
type Entity struct {
	ID               uuid.UUID      `json:"id"`
	EntityType       string         `json:"entity_type"`
	ServerID         string         `json:"server_id,omitempty"`
	Fields           map[string]any `json:"fields"`
	LocalUpdatedAt   time.Time      `json:"local_updated_at"`
	ServerUpdatedAt  *time.Time     `json:"server_updated_at,omitempty"`
	SyncStatus       SyncStatus     `json:"sync_status"`
	PendingChangeSet ChangeSet      `json:"pending_change_set,omitempty"`
	ServerSnapshot   *ServerEntity  `json:"server_snapshot,omitempty"`
	ConflictReason   string         `json:"conflict_reason,omitempty"`
}

// SeenServerVersion reports whether the server copy at updatedAt is not newer than
// the last version this entity was reconciled with.
func (e *Entity) SeenServerVersion(updatedAt time.Time) bool {
	return e.ServerUpdatedAt != nil && !updatedAt.After(*e.ServerUpdatedAt)
}

// Reflects reports whether fields already carry every pending local change.
func (e *Entity) Reflects(fields map[string]any) bool {
	for field, change := range e.PendingChangeSet {
		if !Equal(fields[field], change.New) {
			return false
		}
	}
	return true
}

// Normalize round-trips v through JSON so values compare the same way as values read
// back from storage or received from the server.
func Normalize(v map[string]any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal compares two normalized field values.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// CloneFields returns a shallow copy of fields.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
