// Package repository implements idempotency stores for memory, PostgreSQL, MySQL and Redis.
package repository

import (
	"context"
	"sync"
	"time"

	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

// MemoryStore keeps records in a mutex-guarded map. Suitable for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*idempotencyDomain.Record
	nowFn   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*idempotencyDomain.Record),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Acquire(
	ctx context.Context,
	key, token string,
	lockTTL, ttl time.Duration,
) (*idempotencyDomain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if existing, ok := m.records[key]; ok && !existing.Acquirable(now) {
		return cloneRecord(existing), false, nil
	}

	lockExpiresAt := now.Add(lockTTL)
	record := &idempotencyDomain.Record{
		Key:           key,
		Status:        idempotencyDomain.StatusInProgress,
		LockToken:     token,
		LockExpiresAt: &lockExpiresAt,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	m.records[key] = record
	return cloneRecord(record), true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key, token string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok || record.LockToken != token {
		return idempotencyDomain.ErrLockLost
	}
	record.Status = idempotencyDomain.StatusCompleted
	record.Result = append([]byte(nil), result...)
	record.LockToken = ""
	record.LockExpiresAt = nil
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok || record.LockToken != token {
		return idempotencyDomain.ErrLockLost
	}
	record.LockToken = ""
	record.LockExpiresAt = nil
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok || record.Expired(m.nowFn()) {
		return nil, idempotencyDomain.ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	var count int64
	for key, record := range m.records {
		if record.Expired(now) {
			delete(m.records, key)
			count++
		}
	}
	return count, nil
}

func cloneRecord(r *idempotencyDomain.Record) *idempotencyDomain.Record {
	c := *r
	c.Result = append([]byte(nil), r.Result...)
	if r.LockExpiresAt != nil {
		t := *r.LockExpiresAt
		c.LockExpiresAt = &t
	}
	return &c
}
