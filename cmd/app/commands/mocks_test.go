package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

type mockAuditLogUseCase struct {
	mock.Mock
}

func (m *mockAuditLogUseCase) Record(
	ctx context.Context,
	actor string,
	action auditDomain.Action,
	resource string,
	metadata map[string]any,
) error {
	args := m.Called(ctx, actor, action, resource, metadata)
	return args.Error(0)
}

func (m *mockAuditLogUseCase) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.AuditLog, error) {
	args := m.Called(ctx, offset, limit, createdAtFrom, createdAtTo)
	logs, _ := args.Get(0).([]*auditDomain.AuditLog)
	return logs, args.Error(1)
}

func (m *mockAuditLogUseCase) DeleteOlderThan(ctx context.Context, days int, dryRun bool) (int64, error) {
	args := m.Called(ctx, days, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, input queueDomain.EnqueueInput) (*queueDomain.Job, error) {
	args := m.Called(ctx, input)
	job, _ := args.Get(0).(*queueDomain.Job)
	return job, args.Error(1)
}

func (m *mockQueue) Get(ctx context.Context, id uuid.UUID) (*queueDomain.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*queueDomain.Job)
	return job, args.Error(1)
}

func (m *mockQueue) ListDeadLetters(ctx context.Context, queue string, offset, limit int) ([]*queueDomain.Job, error) {
	args := m.Called(ctx, queue, offset, limit)
	jobs, _ := args.Get(0).([]*queueDomain.Job)
	return jobs, args.Error(1)
}

func (m *mockQueue) RetryDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error) {
	args := m.Called(ctx, id, actor)
	job, _ := args.Get(0).(*queueDomain.Job)
	return job, args.Error(1)
}

func (m *mockQueue) DiscardDeadLetter(ctx context.Context, id uuid.UUID, actor string) (*queueDomain.Job, error) {
	args := m.Called(ctx, id, actor)
	job, _ := args.Get(0).(*queueDomain.Job)
	return job, args.Error(1)
}

func (m *mockQueue) Status(ctx context.Context, queue string) (queueDomain.StatusCounts, error) {
	args := m.Called(ctx, queue)
	return args.Get(0).(queueDomain.StatusCounts), args.Error(1)
}

func (m *mockQueue) ReapStale(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueue) CheckDeadLetters(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockQueue) Queues() []string {
	return m.Called().Get(0).([]string)
}

func (m *mockQueue) Policy(queue string) (queueDomain.Policy, bool) {
	args := m.Called(queue)
	return args.Get(0).(queueDomain.Policy), args.Bool(1)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Write(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	fields map[string]any,
) (*syncDomain.Entity, error) {
	args := m.Called(ctx, entityType, entityID, fields)
	entity, _ := args.Get(0).(*syncDomain.Entity)
	return entity, args.Error(1)
}

func (m *mockEngine) Get(ctx context.Context, entityID uuid.UUID) (*syncDomain.Entity, error) {
	args := m.Called(ctx, entityID)
	entity, _ := args.Get(0).(*syncDomain.Entity)
	return entity, args.Error(1)
}

func (m *mockEngine) Pending(ctx context.Context) ([]*syncDomain.QueueEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]*syncDomain.QueueEntry)
	return entries, args.Error(1)
}

func (m *mockEngine) SyncNow(ctx context.Context) (syncDomain.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(syncDomain.Report), args.Error(1)
}

func (m *mockEngine) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockEngine) NotifyOnline() {
	m.Called()
}

func (m *mockEngine) Conflicts(ctx context.Context) ([]*syncDomain.Entity, error) {
	args := m.Called(ctx)
	entities, _ := args.Get(0).([]*syncDomain.Entity)
	return entities, args.Error(1)
}

func (m *mockEngine) SuggestResolution(ctx context.Context, entityID uuid.UUID) (syncDomain.Suggestion, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(syncDomain.Suggestion), args.Error(1)
}

func (m *mockEngine) ResolveConflict(
	ctx context.Context,
	entityID uuid.UUID,
	strategy syncDomain.Strategy,
) (*syncDomain.Entity, error) {
	args := m.Called(ctx, entityID, strategy)
	entity, _ := args.Get(0).(*syncDomain.Entity)
	return entity, args.Error(1)
}
