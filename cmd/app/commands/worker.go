package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fieldops/resilience/internal/app"
	"github.com/fieldops/resilience/internal/config"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
	"github.com/fieldops/resilience/internal/scheduler"
)

// RunWorker drains every configured queue and, when enabled, runs the maintenance
// scheduler. In-flight jobs finish or are released before it returns.
func RunWorker(ctx context.Context, version string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting worker",
		slog.String("version", version),
		slog.String("worker_id", cfg.WorkerID),
	)
	defer closeContainer(container, logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workers, err := container.Workers()
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		if sched, err = container.Scheduler(); err != nil {
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return queueUseCase.RunWorkers(gctx, workers...)
	})

	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}
