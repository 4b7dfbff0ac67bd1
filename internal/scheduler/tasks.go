package scheduler

import (
	"context"
	"log/slog"

	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

// Schedules holds the cron specs of the maintenance tasks. Empty disables a task.
type Schedules struct {
	ReapStaleJobs    string
	PurgeIdempotency string
	CheckDeadLetters string
}

// MaintenanceTasks builds the maintenance tasks over the queue and the ledger.
func MaintenanceTasks(
	schedules Schedules,
	queue queueUseCase.Queue,
	ledger idempotencyUseCase.Ledger,
	logger *slog.Logger,
) []Task {
	var tasks []Task

	if schedules.ReapStaleJobs != "" {
		tasks = append(tasks, Task{
			Name:     "reap_stale_jobs",
			Schedule: schedules.ReapStaleJobs,
			Run: func(ctx context.Context) error {
				count, err := queue.ReapStale(ctx)
				if err != nil {
					return err
				}
				if count > 0 {
					logger.Warn("released stale jobs", slog.Int64("count", count))
				}
				return nil
			},
		})
	}

	if schedules.PurgeIdempotency != "" {
		tasks = append(tasks, Task{
			Name:     "purge_idempotency",
			Schedule: schedules.PurgeIdempotency,
			Run: func(ctx context.Context) error {
				_, err := ledger.PurgeExpired(ctx)
				return err
			},
		})
	}

	if schedules.CheckDeadLetters != "" {
		tasks = append(tasks, Task{
			Name:     "check_dead_letters",
			Schedule: schedules.CheckDeadLetters,
			Run:      queue.CheckDeadLetters,
		})
	}

	return tasks
}
