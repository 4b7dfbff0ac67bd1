package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
)

// RunPurgeIdempotency deletes idempotency records whose TTL has elapsed.
func RunPurgeIdempotency(
	ctx context.Context,
	ledger idempotencyUseCase.Ledger,
	logger *slog.Logger,
	out io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	count, err := ledger.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge idempotency records: %w", err)
	}
	logger.Info("idempotency purge completed", slog.Int64("count", count))

	if format == "json" {
		return writeJSON(out, map[string]any{"count": count})
	}
	_, _ = fmt.Fprintf(out, "Purged %d expired idempotency record(s)\n", count)
	return nil
}
