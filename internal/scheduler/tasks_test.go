package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idempotencyRepository "github.com/fieldops/resilience/internal/idempotency/repository"
	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

type stubQueue struct {
	queueUseCase.Queue
	reaped     int64
	reapErr    error
	checkCalls int
}

func (q *stubQueue) ReapStale(ctx context.Context) (int64, error) {
	return q.reaped, q.reapErr
}

func (q *stubQueue) CheckDeadLetters(ctx context.Context) error {
	q.checkCalls++
	return nil
}

func TestMaintenanceTasks(t *testing.T) {
	ctx := context.Background()
	ledger := idempotencyUseCase.NewLedger(idempotencyRepository.NewMemoryStore(), idempotencyUseCase.Config{}, testLogger())

	t.Run("all schedules", func(t *testing.T) {
		q := &stubQueue{reaped: 2}
		tasks := MaintenanceTasks(Schedules{
			ReapStaleJobs:    "@every 1m",
			PurgeIdempotency: "@every 15m",
			CheckDeadLetters: "@every 5m",
		}, q, ledger, testLogger())

		require.Len(t, tasks, 3)
		names := []string{tasks[0].Name, tasks[1].Name, tasks[2].Name}
		assert.Equal(t, []string{"reap_stale_jobs", "purge_idempotency", "check_dead_letters"}, names)

		for _, task := range tasks {
			assert.NoError(t, task.Run(ctx))
		}
		assert.Equal(t, 1, q.checkCalls)
	})

	t.Run("empty schedule disables task", func(t *testing.T) {
		tasks := MaintenanceTasks(Schedules{CheckDeadLetters: "@hourly"}, &stubQueue{}, ledger, testLogger())
		require.Len(t, tasks, 1)
		assert.Equal(t, "check_dead_letters", tasks[0].Name)
	})

	t.Run("reap error propagates", func(t *testing.T) {
		q := &stubQueue{reapErr: errors.New("db down")}
		tasks := MaintenanceTasks(Schedules{ReapStaleJobs: "@every 1m"}, q, ledger, testLogger())
		assert.ErrorContains(t, tasks[0].Run(ctx), "db down")
	})
}
