// Package scheduler runs periodic maintenance on cron schedules. Each tick runs on one
// instance only: a task is skipped when another instance holds its lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldops/resilience/internal/lock"
)

const defaultLockTTL = 5 * time.Minute

// Task is a named periodic job.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs tasks on their schedules.
type Scheduler struct {
	tasks   []Task
	locker  lock.Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// New validates every schedule and returns a Scheduler. A zero lockTTL selects five
// minutes.
func New(tasks []Task, locker lock.Locker, lockTTL time.Duration, logger *slog.Logger) (*Scheduler, error) {
	for _, task := range tasks {
		if task.Name == "" || task.Run == nil {
			return nil, fmt.Errorf("invalid task %q", task.Name)
		}
		if _, err := cron.ParseStandard(task.Schedule); err != nil {
			return nil, fmt.Errorf("task %s: invalid schedule %q: %w", task.Name, task.Schedule, err)
		}
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Scheduler{tasks: tasks, locker: locker, lockTTL: lockTTL, logger: logger}, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for running tasks.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLogger := &slogAdapter{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	for _, task := range s.tasks {
		if _, err := c.AddFunc(task.Schedule, func() { s.RunTask(ctx, task) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", task.Name, err)
		}
	}

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunTask runs task once under its lock. Failures are logged, not returned, so one
// bad tick never stops the schedule.
func (s *Scheduler) RunTask(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	logger := s.logger.With(slog.String("task", task.Name))
	start := time.Now()

	err := lock.WithLock(ctx, s.locker, "scheduler:"+task.Name, s.lockTTL, task.Run)
	switch {
	case errors.Is(err, lock.ErrNotObtained):
		logger.Debug("task running on another instance, skipped")
	case err != nil:
		logger.Error("task failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
	default:
		logger.Debug("task finished", slog.Duration("duration", time.Since(start)))
	}
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a *slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
