package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"github.com/robfig/cron/v3"

	apperrors "github.com/fieldops/resilience/internal/errors"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// maxOfflineBackoff caps the intervals between probes of an unreachable server.
const maxOfflineBackoff = 8

// Config configures the engine.
type Config struct {
	// Interval between periodic syncs while online. Rounded down to whole seconds.
	Interval time.Duration
	Policy   Policy
}

type engine struct {
	store  Store
	client ServerClient
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time

	// syncMu allows one cycle at a time; writeMu serializes local transactions so a
	// write never collides with an ack or a pulled change.
	syncMu  sync.Mutex
	writeMu sync.Mutex

	online chan struct{}
}

// NewEngine creates the sync engine.
func NewEngine(store Store, client ServerClient, cfg Config, logger *slog.Logger) Engine {
	return newEngine(store, client, cfg, logger, func() time.Time { return time.Now().UTC() })
}

func newEngine(store Store, client ServerClient, cfg Config, logger *slog.Logger, nowFn func() time.Time) *engine {
	if cfg.Interval < time.Second {
		cfg.Interval = time.Minute
	}
	if cfg.Policy.StatusField == "" {
		cfg.Policy = DefaultPolicy()
	}
	return &engine{
		store:  store,
		client: client,
		cfg:    cfg,
		logger: logger,
		nowFn:  nowFn,
		online: make(chan struct{}, 1),
	}
}

func (e *engine) update(ctx context.Context, fn func(tx syncDomain.Tx) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.Update(ctx, fn)
}

func (e *engine) Write(
	ctx context.Context,
	entityType string,
	entityID uuid.UUID,
	fields map[string]any,
) (*syncDomain.Entity, error) {
	if err := validation.Validate(entityType, validation.Required, customValidation.Slug); err != nil {
		return nil, customValidation.WrapValidationError(err)
	}
	normalized, err := syncDomain.Normalize(fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "fields must be JSON serializable")
	}

	var out *syncDomain.Entity
	err = e.update(ctx, func(tx syncDomain.Tx) error {
		now := e.nowFn()
		op := syncDomain.OperationUpdate

		var entity *syncDomain.Entity
		if entityID != uuid.Nil {
			found, err := tx.GetEntity(entityID)
			if err != nil && !apperrors.Is(err, syncDomain.ErrEntityNotFound) {
				return err
			}
			entity = found
		}
		if entity == nil {
			id := entityID
			if id == uuid.Nil {
				id = uuid.Must(uuid.NewV7())
			}
			entity = &syncDomain.Entity{
				ID:         id,
				EntityType: entityType,
				Fields:     map[string]any{},
				SyncStatus: syncDomain.StatusSynced,
			}
			op = syncDomain.OperationCreate
		}

		if entity.EntityType != entityType {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "entity %s is a %s", entity.ID, entity.EntityType)
		}
		if entity.SyncStatus == syncDomain.StatusConflict {
			return syncDomain.ErrEntityInConflict
		}
		if entity.Fields == nil {
			entity.Fields = map[string]any{}
		}

		changes := syncDomain.ChangeSet{}
		for field, value := range normalized {
			old, had := entity.Fields[field]
			if !had || !syncDomain.Equal(old, value) {
				changes[field] = syncDomain.FieldChange{Old: old, New: value}
			}
		}
		if len(changes) == 0 && op == syncDomain.OperationUpdate {
			out = entity
			return nil
		}

		for field, change := range changes {
			entity.Fields[field] = change.New
		}
		entity.PendingChangeSet = entity.PendingChangeSet.Merge(changes)
		entity.SyncStatus = syncDomain.StatusPending
		entity.LocalUpdatedAt = now

		if err := tx.AppendEntry(syncDomain.NewQueueEntry(entity, op, changes, now)); err != nil {
			return err
		}
		if err := tx.PutEntity(entity); err != nil {
			return err
		}
		out = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *engine) Get(ctx context.Context, entityID uuid.UUID) (*syncDomain.Entity, error) {
	var entity *syncDomain.Entity
	err := e.store.View(ctx, func(tx syncDomain.Tx) error {
		var err error
		entity, err = tx.GetEntity(entityID)
		return err
	})
	return entity, err
}

func (e *engine) Pending(ctx context.Context) ([]*syncDomain.QueueEntry, error) {
	var entries []*syncDomain.QueueEntry
	err := e.store.View(ctx, func(tx syncDomain.Tx) error {
		var err error
		entries, err = tx.ListEntries()
		return err
	})
	return entries, err
}

func (e *engine) Conflicts(ctx context.Context) ([]*syncDomain.Entity, error) {
	var entities []*syncDomain.Entity
	err := e.store.View(ctx, func(tx syncDomain.Tx) error {
		var err error
		entities, err = tx.ListEntities(syncDomain.StatusConflict)
		return err
	})
	return entities, err
}

func (e *engine) SyncNow(ctx context.Context) (syncDomain.Report, error) {
	if !e.syncMu.TryLock() {
		return syncDomain.Report{}, syncDomain.ErrSyncInProgress
	}
	defer e.syncMu.Unlock()

	var report syncDomain.Report
	// a rejected pull does not hold back the push queue; the pull error is
	// returned once the queue has been drained
	pullErr := e.pull(ctx, &report)
	if pullErr != nil {
		if apperrors.IsTransient(pullErr) {
			e.logger.Info("server unreachable, sync postponed", slog.Any("error", pullErr))
			report.Offline = true
			return report, e.countRemaining(ctx, &report)
		}
		e.logger.Error("pull rejected, pushing local changes anyway", slog.Any("error", pullErr))
		pullErr = apperrors.Wrap(pullErr, "pull failed")
	}

	if err := e.push(ctx, &report); err != nil {
		return report, apperrors.Join(pullErr, apperrors.Wrap(err, "push failed"))
	}

	if err := e.countRemaining(ctx, &report); err != nil {
		return report, apperrors.Join(pullErr, err)
	}
	if pullErr != nil {
		return report, pullErr
	}
	e.logger.Info("sync finished",
		slog.Int("pulled", report.Pulled),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("pushed", report.Pushed),
		slog.Int("rejected", report.Rejected),
		slog.Int("blocked", report.Blocked),
		slog.Int("remaining", report.Remaining),
		slog.Bool("offline", report.Offline),
	)
	return report, nil
}

func (e *engine) countRemaining(ctx context.Context, report *syncDomain.Report) error {
	entries, err := e.Pending(ctx)
	if err != nil {
		return err
	}
	report.Remaining = len(entries)
	return nil
}

func (e *engine) pull(ctx context.Context, report *syncDomain.Report) error {
	var since time.Time
	err := e.store.View(ctx, func(tx syncDomain.Tx) error {
		var err error
		since, err = tx.Watermark()
		return err
	})
	if err != nil {
		return err
	}

	page, err := e.client.Pull(ctx, since)
	if err != nil {
		return err
	}

	watermark := page.Watermark
	for i := range page.Entities {
		se := page.Entities[i]
		if se.UpdatedAt.After(watermark) {
			watermark = se.UpdatedAt
		}
		if err := e.applyServerEntity(ctx, se, report); err != nil {
			return err
		}
	}

	return e.update(ctx, func(tx syncDomain.Tx) error {
		return tx.SetWatermark(watermark)
	})
}

func (e *engine) findLocal(tx syncDomain.Tx, se syncDomain.ServerEntity) (*syncDomain.Entity, error) {
	if se.ClientID != nil {
		entity, err := tx.GetEntity(*se.ClientID)
		if err == nil || !apperrors.Is(err, syncDomain.ErrEntityNotFound) {
			return entity, err
		}
	}
	if se.ID == "" {
		return nil, syncDomain.ErrEntityNotFound
	}
	return tx.FindByServerID(se.ID)
}

func (e *engine) applyServerEntity(ctx context.Context, se syncDomain.ServerEntity, report *syncDomain.Report) error {
	fields, err := syncDomain.Normalize(se.Fields)
	if err != nil {
		return apperrors.Wrap(err, "invalid server entity")
	}
	se.Fields = fields
	updatedAt := se.UpdatedAt

	return e.update(ctx, func(tx syncDomain.Tx) error {
		entity, err := e.findLocal(tx, se)
		if apperrors.Is(err, syncDomain.ErrEntityNotFound) {
			id := uuid.Must(uuid.NewV7())
			if se.ClientID != nil {
				id = *se.ClientID
			}
			report.Pulled++
			return tx.PutEntity(&syncDomain.Entity{
				ID:              id,
				EntityType:      se.EntityType,
				ServerID:        se.ID,
				Fields:          se.Fields,
				LocalUpdatedAt:  e.nowFn(),
				ServerUpdatedAt: &updatedAt,
				SyncStatus:      syncDomain.StatusSynced,
			})
		}
		if err != nil {
			return err
		}
		if entity.SeenServerVersion(se.UpdatedAt) {
			return nil
		}
		report.Pulled++
		if entity.ServerID == "" {
			entity.ServerID = se.ID
		}
		logger := e.logger.With(slog.String("entity_id", entity.ID.String()))

		switch entity.SyncStatus {
		case syncDomain.StatusPending:
			if entity.Reflects(se.Fields) {
				// our change reached the server but the ack was lost
				if err := deleteEntityEntries(tx, entity.ID); err != nil {
					return err
				}
				entity.Fields = se.Fields
				entity.PendingChangeSet = nil
				entity.SyncStatus = syncDomain.StatusSynced
				entity.ServerUpdatedAt = &updatedAt
				logger.Info("pending change already applied on server")
				break
			}
			snapshot := se
			entity.SyncStatus = syncDomain.StatusConflict
			entity.ServerSnapshot = &snapshot
			entity.ConflictReason = "server copy changed while local edits were pending"
			if err := blockEntityEntries(tx, entity.ID); err != nil {
				return err
			}
			report.Conflicts++
			logger.Warn("sync conflict detected")

		case syncDomain.StatusConflict:
			snapshot := se
			entity.ServerSnapshot = &snapshot

		default:
			entity.Fields = se.Fields
			entity.SyncStatus = syncDomain.StatusSynced
			entity.ServerUpdatedAt = &updatedAt
		}
		return tx.PutEntity(entity)
	})
}

func (e *engine) push(ctx context.Context, report *syncDomain.Report) error {
	entries, err := e.Pending(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}

		entity, err := e.Get(ctx, entry.EntityID)
		if apperrors.Is(err, syncDomain.ErrEntityNotFound) {
			e.logger.Error("queue entry without entity, dropping", slog.Uint64("seq", entry.Seq))
			if err := e.update(ctx, func(tx syncDomain.Tx) error { return tx.DeleteEntry(entry.Seq) }); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if entity.SyncStatus == syncDomain.StatusConflict {
			report.Blocked++
			continue
		}

		ack, err := e.client.Push(ctx, syncDomain.Mutation{
			EntityType: entry.EntityType,
			ClientID:   entry.EntityID,
			ServerID:   entity.ServerID,
			Operation:  entry.Operation,
			Fields:     entry.ChangeSet.Values(),
		}, entry.IdempotencyKey)

		switch {
		case err == nil:
			if err := e.acknowledge(ctx, entry, ack); err != nil {
				return err
			}
			report.Pushed++

		case apperrors.IsPermanent(err):
			if err := e.reject(ctx, entry, err); err != nil {
				return err
			}
			report.Rejected++

		default:
			entry.Attempts++
			entry.LastError = err.Error()
			if uerr := e.update(ctx, func(tx syncDomain.Tx) error { return tx.PutEntry(entry) }); uerr != nil {
				return uerr
			}
			e.logger.Info("push interrupted, will retry",
				slog.Uint64("seq", entry.Seq),
				slog.Int("attempts", entry.Attempts),
				slog.Any("error", err),
			)
			report.Offline = true
			return nil
		}
	}
	return nil
}

func (e *engine) acknowledge(ctx context.Context, entry *syncDomain.QueueEntry, ack *syncDomain.Ack) error {
	return e.update(ctx, func(tx syncDomain.Tx) error {
		if err := tx.DeleteEntry(entry.Seq); err != nil {
			return err
		}
		entity, err := tx.GetEntity(entry.EntityID)
		if err != nil {
			return err
		}
		if ack.ServerID != "" {
			entity.ServerID = ack.ServerID
		}
		if !ack.UpdatedAt.IsZero() && !entity.SeenServerVersion(ack.UpdatedAt) {
			updatedAt := ack.UpdatedAt
			entity.ServerUpdatedAt = &updatedAt
		}

		remaining, err := tx.ListEntityEntries(entity.ID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 && entity.SyncStatus == syncDomain.StatusPending {
			entity.SyncStatus = syncDomain.StatusSynced
			entity.PendingChangeSet = nil
		}
		return tx.PutEntity(entity)
	})
}

func (e *engine) reject(ctx context.Context, entry *syncDomain.QueueEntry, cause error) error {
	e.logger.Warn("server rejected change",
		slog.String("entity_id", entry.EntityID.String()),
		slog.Uint64("seq", entry.Seq),
		slog.Any("error", cause),
	)
	return e.update(ctx, func(tx syncDomain.Tx) error {
		entity, err := tx.GetEntity(entry.EntityID)
		if err != nil {
			return err
		}
		entity.SyncStatus = syncDomain.StatusConflict
		entity.ConflictReason = "rejected by server: " + cause.Error()
		entry.LastError = cause.Error()
		entry.Attempts++
		if err := tx.PutEntry(entry); err != nil {
			return err
		}
		if err := blockEntityEntries(tx, entity.ID); err != nil {
			return err
		}
		return tx.PutEntity(entity)
	})
}

func deleteEntityEntries(tx syncDomain.Tx, entityID uuid.UUID) error {
	entries, err := tx.ListEntityEntries(entityID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := tx.DeleteEntry(entry.Seq); err != nil {
			return err
		}
	}
	return nil
}

func blockEntityEntries(tx syncDomain.Tx, entityID uuid.UUID) error {
	entries, err := tx.ListEntityEntries(entityID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entry.Status = syncDomain.EntryBlocked
		if err := tx.PutEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) SuggestResolution(ctx context.Context, entityID uuid.UUID) (syncDomain.Suggestion, error) {
	entity, err := e.Get(ctx, entityID)
	if err != nil {
		return syncDomain.Suggestion{}, err
	}
	if entity.SyncStatus != syncDomain.StatusConflict {
		return syncDomain.Suggestion{}, syncDomain.ErrNotInConflict
	}
	return e.cfg.Policy.Suggest(entity), nil
}

func (e *engine) ResolveConflict(
	ctx context.Context,
	entityID uuid.UUID,
	strategy syncDomain.Strategy,
) (*syncDomain.Entity, error) {
	if !strategy.Valid() {
		return nil, apperrors.Wrapf(syncDomain.ErrInvalidStrategy, "%q", strategy)
	}

	var out *syncDomain.Entity
	err := e.update(ctx, func(tx syncDomain.Tx) error {
		entity, err := tx.GetEntity(entityID)
		if err != nil {
			return err
		}
		if entity.SyncStatus != syncDomain.StatusConflict {
			return syncDomain.ErrNotInConflict
		}

		if strategy == syncDomain.StrategyAuto {
			suggestion := e.cfg.Policy.Suggest(entity)
			if !suggestion.Resolvable {
				return apperrors.Wrap(syncDomain.ErrUnresolvable, suggestion.Reason)
			}
			strategy = suggestion.Strategy
		}

		var (
			fields  map[string]any
			changes syncDomain.ChangeSet
		)
		switch strategy {
		case syncDomain.StrategyKeepLocal:
			fields, changes = keepLocal(entity)
		case syncDomain.StrategyAcceptServer:
			fields = acceptServer(entity)
		case syncDomain.StrategyMerge:
			fields, changes = e.cfg.Policy.Merge(entity)
		}

		if err := deleteEntityEntries(tx, entity.ID); err != nil {
			return err
		}

		now := e.nowFn()
		if server := entity.ServerSnapshot; server != nil {
			updatedAt := server.UpdatedAt
			entity.ServerUpdatedAt = &updatedAt
			if entity.ServerID == "" {
				entity.ServerID = server.ID
			}
		}
		entity.Fields = fields
		entity.ServerSnapshot = nil
		entity.ConflictReason = ""
		entity.LocalUpdatedAt = now

		if len(changes) == 0 {
			entity.PendingChangeSet = nil
			entity.SyncStatus = syncDomain.StatusSynced
		} else {
			op := syncDomain.OperationUpdate
			if entity.ServerID == "" {
				op = syncDomain.OperationCreate
			}
			entity.PendingChangeSet = changes
			entity.SyncStatus = syncDomain.StatusPending
			if err := tx.AppendEntry(syncDomain.NewQueueEntry(entity, op, changes, now)); err != nil {
				return err
			}
		}

		if err := tx.PutEntity(entity); err != nil {
			return err
		}
		out = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("sync conflict resolved",
		slog.String("entity_id", entityID.String()),
		slog.String("strategy", string(strategy)),
		slog.String("sync_status", string(out.SyncStatus)),
	)
	return out, nil
}

func (e *engine) NotifyOnline() {
	select {
	case e.online <- struct{}{}:
	default:
	}
}

// Run syncs on every interval tick and whenever NotifyOnline is called. While the
// server is unreachable the ticks keep probing it, backing off to one probe every
// maxOfflineBackoff intervals, so a dropped connection recovers on its own.
func (e *engine) Run(ctx context.Context) error {
	schedule := cron.Every(e.cfg.Interval)
	timer := time.NewTimer(time.Until(schedule.Next(time.Now())))
	defer timer.Stop()

	// backoff is the number of intervals between probes while offline, 0 when online
	backoff, skip := 0, 0
	cycle := func() {
		report, err := e.SyncNow(ctx)
		switch {
		case apperrors.Is(err, syncDomain.ErrSyncInProgress):
			return
		case err == nil && report.Offline:
			backoff = min(max(backoff*2, 1), maxOfflineBackoff)
			skip = backoff - 1
			return
		case err != nil:
			e.logger.Error("sync failed", slog.Any("error", err))
		}
		backoff, skip = 0, 0
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.online:
			backoff, skip = 0, 0
			cycle()
		case <-timer.C:
			if skip > 0 {
				skip--
			} else {
				cycle()
			}
			timer.Reset(time.Until(schedule.Next(time.Now())))
		}
	}
}
