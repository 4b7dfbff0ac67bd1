package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	"github.com/fieldops/resilience/internal/queue/http/dto"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

// RunQueueStatus prints job counts per status for queueName, or for every
// configured queue when queueName is empty.
func RunQueueStatus(
	ctx context.Context,
	queue queueUseCase.Queue,
	out io.Writer,
	queueName string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	names := []string{queueName}
	if queueName == "" {
		names = queue.Queues()
		sort.Strings(names)
	}

	counts := make([]queueDomain.StatusCounts, 0, len(names))
	for _, name := range names {
		c, err := queue.Status(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to get status of queue %s: %w", name, err)
		}
		counts = append(counts, c)
	}

	if format == "json" {
		return writeJSON(out, counts)
	}

	_, _ = fmt.Fprintf(out, "%-16s %8s %10s %9s %6s %11s %9s\n",
		"QUEUE", "PENDING", "PROCESSING", "COMPLETED", "FAILED", "DEAD_LETTER", "DISCARDED")
	for _, c := range counts {
		_, _ = fmt.Fprintf(out, "%-16s %8d %10d %9d %6d %11d %9d\n",
			c.Queue, c.Pending, c.Processing, c.Completed, c.Failed, c.DeadLetter, c.Discarded)
	}
	return nil
}

// RunListDeadLetters prints dead-lettered jobs of queueName, oldest first.
func RunListDeadLetters(
	ctx context.Context,
	queue queueUseCase.Queue,
	out io.Writer,
	queueName string,
	offset, limit int,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	jobs, err := queue.ListDeadLetters(ctx, queueName, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	if format == "json" {
		return writeJSON(out, dto.MapJobsToListResponse(jobs))
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintf(out, "No dead-lettered jobs in queue %s\n", queueName)
		return nil
	}
	for _, job := range jobs {
		lastError := ""
		if job.LastError != nil {
			lastError = *job.LastError
		}
		_, _ = fmt.Fprintf(out, "%s  %s  attempts=%d/%d  key=%s  error=%q\n",
			job.ID, job.JobType, job.Attempts, job.MaxAttempts, job.IdempotencyKey, lastError)
	}
	return nil
}

// RunRetryDeadLetter moves a dead-lettered job back to pending with a fresh attempt budget.
func RunRetryDeadLetter(
	ctx context.Context,
	queue queueUseCase.Queue,
	logger *slog.Logger,
	out io.Writer,
	jobID string,
	actor string,
	format string,
) error {
	return runDeadLetterAction(ctx, logger, out, jobID, format, "retried", func(id uuid.UUID) (*queueDomain.Job, error) {
		return queue.RetryDeadLetter(ctx, id, actor)
	})
}

// RunDiscardDeadLetter marks a dead-lettered job as discarded.
func RunDiscardDeadLetter(
	ctx context.Context,
	queue queueUseCase.Queue,
	logger *slog.Logger,
	out io.Writer,
	jobID string,
	actor string,
	format string,
) error {
	return runDeadLetterAction(ctx, logger, out, jobID, format, "discarded", func(id uuid.UUID) (*queueDomain.Job, error) {
		return queue.DiscardDeadLetter(ctx, id, actor)
	})
}

func runDeadLetterAction(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	jobID string,
	format string,
	verb string,
	action func(id uuid.UUID) (*queueDomain.Job, error),
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", jobID, err)
	}

	job, err := action(id)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	logger.InfoContext(ctx, "dead letter "+verb,
		slog.String("job_id", job.ID.String()),
		slog.String("queue", job.QueueName),
	)

	if format == "json" {
		return writeJSON(out, dto.MapJobToResponse(job))
	}
	_, _ = fmt.Fprintf(out, "Job %s %s (queue %s, status %s)\n", job.ID, verb, job.QueueName, job.Status)
	return nil
}
