package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServerEntity is the server of record's copy of an entity.
type ServerEntity struct {
	ID         string         `json:"id"`
	ClientID   *uuid.UUID     `json:"client_id,omitempty"`
	EntityType string         `json:"entity_type"`
	Fields     map[string]any `json:"fields"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ChangeSetPage is the result of a pull: every entity changed after the requested
// watermark and the watermark to use next time.
type ChangeSetPage struct {
	Entities  []ServerEntity `json:"entities"`
	Watermark time.Time      `json:"watermark"`
}

// Mutation is a local change submitted to the server.
type Mutation struct {
	EntityType string         `json:"entity_type"`
	ClientID   uuid.UUID      `json:"client_id"`
	ServerID   string         `json:"server_id,omitempty"`
	Operation  Operation      `json:"operation"`
	Fields     map[string]any `json:"fields"`
}

// Ack is the server's acknowledgement of a mutation.
type Ack struct {
	ServerID  string    `json:"server_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
