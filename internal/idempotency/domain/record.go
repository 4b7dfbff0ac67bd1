// Package domain defines idempotency records: the durable memory of which keyed side
// effects already ran and what they returned.
package domain

import (
	"time"
)

// Status of an idempotency record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Record is the ledger entry for one idempotency key.
//
// A record is in_progress while a caller holds the execution lock, and stays
// in_progress with an empty lock after a failed attempt so the key can be retried.
type Record struct {
	Key           string
	Status        Status
	Result        []byte
	LockToken     string
	LockExpiresAt *time.Time
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the record's TTL window has passed.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// LockLive reports whether some caller currently holds the execution lock.
func (r *Record) LockLive(now time.Time) bool {
	return r.LockToken != "" && r.LockExpiresAt != nil && now.Before(*r.LockExpiresAt)
}

// Acquirable reports whether a new caller may take the record over: it expired, or it
// is in progress with no live lock.
func (r *Record) Acquirable(now time.Time) bool {
	if r.Expired(now) {
		return true
	}
	return r.Status == StatusInProgress && !r.LockLive(now)
}

// Result is what ExecuteOnce hands back. Replayed is true when the value came from a
// previous execution.
type Result struct {
	Value    []byte
	Replayed bool
}
