// Package lock provides cluster-wide mutual exclusion for scheduled maintenance.
// Implementations use Redis, PostgreSQL advisory locks, MySQL named locks or
// process memory.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrNotObtained is returned by TryLock when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks without blocking.
type Locker interface {
	// TryLock obtains key or returns ErrNotObtained. The ttl bounds how long a crashed
	// holder can keep the lock where the backend supports expiry.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// WithLock runs fn while holding key. It returns ErrNotObtained without running fn
// when the key is held elsewhere.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

// advisoryKey maps a lock name to the int64 keyspace of database advisory locks.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), nowFn: time.Now}
}

func (m *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if expiresAt, ok := m.held[key]; ok && now.Before(expiresAt) {
		return nil, ErrNotObtained
	}
	expiresAt := now.Add(ttl)
	m.held[key] = expiresAt
	return &memoryLock{locker: m, key: key, expiresAt: expiresAt}, nil
}

type memoryLock struct {
	locker    *MemoryLocker
	key       string
	expiresAt time.Time
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	// Only drop our own entry; after expiry another holder may own the key.
	if l.locker.held[l.key].Equal(l.expiresAt) {
		delete(l.locker.held, l.key)
	}
	return nil
}
