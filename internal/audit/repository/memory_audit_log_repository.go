package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
)

// MemoryAuditLogRepository keeps audit logs in process memory. Used with the memory
// queue store and in tests.
type MemoryAuditLogRepository struct {
	mu   sync.RWMutex
	logs []*auditDomain.AuditLog
}

// NewMemoryAuditLogRepository creates an empty in-memory repository.
func NewMemoryAuditLogRepository() *MemoryAuditLogRepository {
	return &MemoryAuditLogRepository{}
}

func (r *MemoryAuditLogRepository) Create(ctx context.Context, auditLog *auditDomain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *auditLog
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *MemoryAuditLogRepository) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*auditDomain.AuditLog, 0, len(r.logs))
	for _, l := range r.logs {
		if createdAtFrom != nil && l.CreatedAt.Before(*createdAtFrom) {
			continue
		}
		if createdAtTo != nil && l.CreatedAt.After(*createdAtTo) {
			continue
		}
		cp := *l
		matched = append(matched, &cp)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*auditDomain.AuditLog{}, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (r *MemoryAuditLogRepository) DeleteOlderThan(
	ctx context.Context,
	olderThan time.Time,
	dryRun bool,
) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.logs[:0:0]
	var count int64
	for _, l := range r.logs {
		if l.CreatedAt.Before(olderThan) {
			count++
			continue
		}
		kept = append(kept, l)
	}
	if !dryRun {
		r.logs = kept
	}
	return count, nil
}
