package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
	syncUseCase "github.com/fieldops/resilience/internal/sync/usecase"
)

// RunSyncNow runs one pull and push cycle. Being offline is reported, not failed.
func RunSyncNow(ctx context.Context, engine syncUseCase.Engine, out io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	report, err := engine.SyncNow(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if format == "json" {
		return writeJSON(out, report)
	}
	if report.Offline {
		_, _ = fmt.Fprintln(out, "Server unreachable, changes kept for the next cycle")
	}
	_, _ = fmt.Fprintf(out, "pulled=%d conflicts=%d pushed=%d rejected=%d blocked=%d remaining=%d\n",
		report.Pulled, report.Conflicts, report.Pushed, report.Rejected, report.Blocked, report.Remaining)
	return nil
}

type conflictView struct {
	ID         uuid.UUID           `json:"id"`
	EntityType string              `json:"entity_type"`
	ServerID   string              `json:"server_id,omitempty"`
	Reason     string              `json:"reason"`
	Fields     []string            `json:"pending_fields"`
	Suggestion syncDomain.Strategy `json:"suggestion,omitempty"`
	Resolvable bool                `json:"resolvable"`
	Why        string              `json:"why"`
}

// RunSyncConflicts lists entities in conflict with the suggested resolution of each.
func RunSyncConflicts(ctx context.Context, engine syncUseCase.Engine, out io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	entities, err := engine.Conflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	views := make([]conflictView, 0, len(entities))
	for _, entity := range entities {
		suggestion, err := engine.SuggestResolution(ctx, entity.ID)
		if err != nil {
			return fmt.Errorf("failed to suggest resolution for %s: %w", entity.ID, err)
		}
		fields := make([]string, 0, len(entity.PendingChangeSet))
		for name := range entity.PendingChangeSet {
			fields = append(fields, name)
		}
		sort.Strings(fields)

		views = append(views, conflictView{
			ID:         entity.ID,
			EntityType: entity.EntityType,
			ServerID:   entity.ServerID,
			Reason:     entity.ConflictReason,
			Fields:     fields,
			Suggestion: suggestion.Strategy,
			Resolvable: suggestion.Resolvable,
			Why:        suggestion.Reason,
		})
	}

	if format == "json" {
		return writeJSON(out, views)
	}
	if len(views) == 0 {
		_, _ = fmt.Fprintln(out, "No conflicts")
		return nil
	}
	for _, v := range views {
		suggestion := string(v.Suggestion)
		if !v.Resolvable {
			suggestion = "manual"
		}
		_, _ = fmt.Fprintf(out, "%s  %s  fields=%s  suggestion=%s  (%s)\n",
			v.ID, v.EntityType, strings.Join(v.Fields, ","), suggestion, v.Why)
	}
	return nil
}

// RunSyncResolve resolves the conflict on entityID with strategy.
func RunSyncResolve(
	ctx context.Context,
	engine syncUseCase.Engine,
	logger *slog.Logger,
	out io.Writer,
	entityID string,
	strategy string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	id, err := uuid.Parse(entityID)
	if err != nil {
		return fmt.Errorf("invalid entity id %q: %w", entityID, err)
	}

	entity, err := engine.ResolveConflict(ctx, id, syncDomain.Strategy(strategy))
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	logger.Info("conflict resolved",
		slog.String("entity_id", entity.ID.String()),
		slog.String("strategy", strategy),
		slog.String("sync_status", string(entity.SyncStatus)),
	)

	if format == "json" {
		return writeJSON(out, map[string]any{
			"id":          entity.ID,
			"sync_status": entity.SyncStatus,
			"fields":      entity.Fields,
		})
	}
	_, _ = fmt.Fprintf(out, "Entity %s resolved with %s, now %s\n", entity.ID, strategy, entity.SyncStatus)
	return nil
}

// RunSyncDaemon keeps syncing on the configured interval until ctx is done.
// The first cycle runs immediately.
func RunSyncDaemon(ctx context.Context, engine syncUseCase.Engine, logger *slog.Logger) error {
	logger.Info("sync daemon started")
	engine.NotifyOnline()
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("sync daemon stopped: %w", err)
	}
	logger.Info("sync daemon stopped")
	return nil
}
