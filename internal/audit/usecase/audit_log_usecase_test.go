package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	apperrors "github.com/fieldops/resilience/internal/errors"
)

// mockAuditLogRepository is a mock implementation of AuditLogRepository for testing.
type mockAuditLogRepository struct {
	mock.Mock
}

func (m *mockAuditLogRepository) Create(ctx context.Context, auditLog *auditDomain.AuditLog) error {
	args := m.Called(ctx, auditLog)
	return args.Error(0)
}

func (m *mockAuditLogRepository) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.AuditLog, error) {
	args := m.Called(ctx, offset, limit, createdAtFrom, createdAtTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auditDomain.AuditLog), args.Error(1)
}

func (m *mockAuditLogRepository) DeleteOlderThan(
	ctx context.Context,
	olderThan time.Time,
	dryRun bool,
) (int64, error) {
	args := m.Called(ctx, olderThan, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

func TestAuditLogUseCase_Record(t *testing.T) {
	t.Run("Success_RecordWithRequestID", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		ctx := auditDomain.WithRequestID(context.Background(), "req-123")

		var captured *auditDomain.AuditLog
		mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.AuditLog")).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(*auditDomain.AuditLog)
			}).
			Return(nil).
			Once()

		uc := NewAuditLogUseCase(mockRepo)
		err := uc.Record(ctx, "ops@example.com", auditDomain.ActionHealthOverrideSet, "tax_authority",
			map[string]any{"state": "panic", "reason": "provider incident"})

		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, "req-123", captured.RequestID)
		assert.Equal(t, "ops@example.com", captured.Actor)
		assert.Equal(t, auditDomain.ActionHealthOverrideSet, captured.Action)
		assert.Equal(t, "tax_authority", captured.Resource)
		assert.Equal(t, "panic", captured.Metadata["state"])
		assert.Equal(t, uuid.Version(7), captured.ID.Version())
		assert.WithinDuration(t, time.Now().UTC(), captured.CreatedAt, 5*time.Second)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Error_MissingActor", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}

		err := NewAuditLogUseCase(mockRepo).Record(context.Background(), "  ",
			auditDomain.ActionDeadLetterRetry, "job-1", nil)

		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Error_RepositoryFails", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockRepo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		err := NewAuditLogUseCase(mockRepo).Record(context.Background(), "ops",
			auditDomain.ActionDeadLetterDiscard, "job-1", nil)

		assert.ErrorContains(t, err, "failed to create audit log")
		mockRepo.AssertExpectations(t)
	})
}

func TestAuditLogUseCase_List(t *testing.T) {
	ctx := context.Background()
	mockRepo := &mockAuditLogRepository{}
	from := time.Now().Add(-time.Hour).UTC()

	expected := []*auditDomain.AuditLog{{Actor: "ops", Action: auditDomain.ActionDeadLetterRetry}}
	mockRepo.On("List", ctx, 0, 50, &from, (*time.Time)(nil)).Return(expected, nil).Once()

	logs, err := NewAuditLogUseCase(mockRepo).List(ctx, 0, 50, &from, nil)

	require.NoError(t, err)
	assert.Equal(t, expected, logs)
	mockRepo.AssertExpectations(t)
}

func TestAuditLogUseCase_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_DryRun", func(t *testing.T) {
		mockRepo := &mockAuditLogRepository{}
		mockRepo.On("DeleteOlderThan", ctx, mock.AnythingOfType("time.Time"), true).
			Return(int64(4), nil).
			Once()

		count, err := NewAuditLogUseCase(mockRepo).DeleteOlderThan(ctx, 30, true)

		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Error_NegativeDays", func(t *testing.T) {
		_, err := NewAuditLogUseCase(&mockAuditLogRepository{}).DeleteOlderThan(ctx, -1, false)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}
