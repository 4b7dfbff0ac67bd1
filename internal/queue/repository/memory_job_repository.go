// Package repository provides job persistence for PostgreSQL, MySQL and memory.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
)

// MemoryJobRepository keeps jobs in process memory. Used by tests and single
// process deployments.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*queueDomain.Job
}

// NewMemoryJobRepository creates an empty repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[uuid.UUID]*queueDomain.Job)}
}

func cloneJob(job *queueDomain.Job) *queueDomain.Job {
	c := *job
	if job.Payload != nil {
		c.Payload = append([]byte(nil), job.Payload...)
	}
	return &c
}

func (m *MemoryJobRepository) Create(ctx context.Context, job *queueDomain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.jobs {
		if existing.QueueName == job.QueueName &&
			existing.IdempotencyKey == job.IdempotencyKey &&
			existing.Status.Active() {
			return queueDomain.ErrDuplicateActiveJob
		}
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryJobRepository) Update(
	ctx context.Context,
	job *queueDomain.Job,
	from queueDomain.Status,
	lockedBy string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[job.ID]
	if !ok {
		return queueDomain.ErrJobNotFound
	}
	if current.Status != from {
		return queueDomain.ErrJobStale
	}
	if lockedBy != "" && (current.LockedBy == nil || *current.LockedBy != lockedBy) {
		return queueDomain.ErrJobStale
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryJobRepository) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, queueDomain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryJobRepository) FindActiveByKey(ctx context.Context, queue, key string) (*queueDomain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.QueueName == queue && job.IdempotencyKey == key && job.Status.Active() {
			return cloneJob(job), nil
		}
	}
	return nil, queueDomain.ErrJobNotFound
}

func (m *MemoryJobRepository) CountActive(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, job := range m.jobs {
		if job.QueueName == queue && job.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryJobRepository) OldestLowPriority(
	ctx context.Context,
	queue string,
	highPriority int,
) (*queueDomain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *queueDomain.Job
	for _, job := range m.jobs {
		if job.QueueName != queue || job.Status != queueDomain.StatusPending || job.Priority >= highPriority {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, queueDomain.ErrJobNotFound
	}
	return cloneJob(oldest), nil
}

// sortClaimOrder orders jobs by priority desc, then next attempt asc.
func sortClaimOrder(jobs []*queueDomain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].NextAttemptAt.Before(jobs[j].NextAttemptAt)
	})
}

func (m *MemoryJobRepository) ClaimDue(
	ctx context.Context,
	queue, workerID string,
	now time.Time,
	limit int,
) ([]*queueDomain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*queueDomain.Job
	for _, job := range m.jobs {
		if job.QueueName == queue && job.Status == queueDomain.StatusPending && !job.NextAttemptAt.After(now) {
			due = append(due, job)
		}
	}
	sortClaimOrder(due)
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*queueDomain.Job, 0, len(due))
	for _, job := range due {
		if err := job.Claim(workerID, now); err != nil {
			return nil, err
		}
		claimed = append(claimed, cloneJob(job))
	}
	return claimed, nil
}

func (m *MemoryJobRepository) ListByStatus(
	ctx context.Context,
	queue string,
	status queueDomain.Status,
	offset, limit int,
) ([]*queueDomain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*queueDomain.Job
	for _, job := range m.jobs {
		if job.QueueName == queue && job.Status == status {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if offset >= len(out) {
		return []*queueDomain.Job{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobRepository) CountByStatus(ctx context.Context, queue string) (queueDomain.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := queueDomain.StatusCounts{Queue: queue}
	for _, status := range queueDomain.AllStatuses {
		var n int64
		for _, job := range m.jobs {
			if job.QueueName == queue && job.Status == status {
				n++
			}
		}
		counts.Set(status, n)
	}
	return counts, nil
}

func (m *MemoryJobRepository) ReleaseStale(
	ctx context.Context,
	queue string,
	lockedBefore, now time.Time,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, job := range m.jobs {
		if job.QueueName != queue || job.Status != queueDomain.StatusProcessing {
			continue
		}
		if job.LockedAt == nil || !job.LockedAt.Before(lockedBefore) {
			continue
		}
		if err := job.Release(now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
