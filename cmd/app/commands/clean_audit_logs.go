package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	auditDomain "github.com/fieldops/resilience/internal/audit/domain"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
)

// RunCleanAuditLogs deletes audit entries older than days. A dry run only counts
// them. A real purge that removed anything leaves an audit.purge entry naming the
// actor, so the trail never loses history silently.
func RunCleanAuditLogs(
	ctx context.Context,
	auditLogUseCase auditUseCase.AuditLogUseCase,
	logger *slog.Logger,
	out io.Writer,
	actor string,
	days int,
	dryRun bool,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if days < 0 {
		return fmt.Errorf("days must be zero or more, got %d", days)
	}

	count, err := auditLogUseCase.DeleteOlderThan(ctx, days, dryRun)
	if err != nil {
		return fmt.Errorf("failed to delete audit logs: %w", err)
	}

	if !dryRun && count > 0 {
		err := auditLogUseCase.Record(ctx, actor, auditDomain.ActionAuditPurge, "audit_logs", map[string]any{
			"days":    days,
			"deleted": count,
		})
		if err != nil {
			return fmt.Errorf("deleted %d audit log(s) but failed to record the purge: %w", count, err)
		}
	}

	logger.Info("audit logs cleaned",
		slog.String("actor", actor),
		slog.Int("days", days),
		slog.Bool("dry_run", dryRun),
		slog.Int64("count", count),
	)

	if format == "json" {
		return writeJSON(out, map[string]any{
			"count":   count,
			"days":    days,
			"dry_run": dryRun,
		})
	}
	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	_, _ = fmt.Fprintf(out, "%s %d audit log(s) older than %d day(s)\n", verb, count, days)
	return nil
}
