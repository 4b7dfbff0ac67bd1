package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fieldops/resilience/internal/errors"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

func TestEngine_Write(t *testing.T) {
	ctx := context.Background()

	t.Run("create queues the change", func(t *testing.T) {
		f := newFixture(t)

		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open", "hours": 2})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, entity.ID)
		assert.Equal(t, syncDomain.StatusPending, entity.SyncStatus)
		assert.Equal(t, float64(2), entity.Fields["hours"])
		assert.True(t, f.now.Equal(entity.LocalUpdatedAt))

		entries := f.pending(t)
		require.Len(t, entries, 1)
		assert.Equal(t, syncDomain.OperationCreate, entries[0].Operation)
		assert.Equal(t, entity.ID, entries[0].EntityID)
		assert.Contains(t, entries[0].IdempotencyKey, "work_order:")
		assert.Equal(t, syncDomain.EntryQueued, entries[0].Status)
	})

	t.Run("updates merge the pending change set", func(t *testing.T) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)

		_, err = f.engine.Write(ctx, "work_order", entity.ID, map[string]any{"status": "in_progress"})
		require.NoError(t, err)
		_, err = f.engine.Write(ctx, "work_order", entity.ID, map[string]any{"status": "done", "notes": []string{"ok"}})
		require.NoError(t, err)

		got := f.get(t, entity.ID)
		assert.Equal(t, "done", got.Fields["status"])
		change := got.PendingChangeSet["status"]
		assert.Nil(t, change.Old)
		assert.Equal(t, "done", change.New)
		assert.Equal(t, []any{"ok"}, got.PendingChangeSet["notes"].New)

		entries := f.pending(t)
		require.Len(t, entries, 3)
		assert.Equal(t, syncDomain.OperationUpdate, entries[2].Operation)
		assert.Len(t, entries[2].ChangeSet, 2)
		assert.NotEqual(t, entries[1].IdempotencyKey, entries[2].IdempotencyKey)
	})

	t.Run("no-op write queues nothing", func(t *testing.T) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)

		_, err = f.engine.Write(ctx, "work_order", entity.ID, map[string]any{"status": "open"})
		require.NoError(t, err)
		assert.Len(t, f.pending(t), 1)
	})

	t.Run("caller chosen id", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.Must(uuid.NewV7())
		entity, err := f.engine.Write(ctx, "work_order", id, map[string]any{"status": "open"})
		require.NoError(t, err)
		assert.Equal(t, id, entity.ID)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Write(ctx, "Work Order", uuid.Nil, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"bad": func() {}})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)
		_, err = f.engine.Write(ctx, "invoice", entity.ID, map[string]any{"status": "open"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("works offline", func(t *testing.T) {
		f := newFixture(t)
		f.server.setPullErr(apperrors.Transient(errors.New("no signal")))

		for i := 0; i < 5; i++ {
			_, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"n": i})
			require.NoError(t, err)
		}
		report := f.sync(t)
		assert.True(t, report.Offline)
		assert.Equal(t, 5, report.Remaining)
		assert.Empty(t, f.server.pushes())
	})
}

func TestEngine_SyncNow_Push(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes in creation order and marks synced", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)
		b, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)
		_, err = f.engine.Write(ctx, "work_order", a.ID, map[string]any{"status": "done"})
		require.NoError(t, err)

		report := f.sync(t)

		assert.Equal(t, 3, report.Pushed)
		assert.Zero(t, report.Remaining)
		assert.False(t, report.Offline)

		pushes := f.server.pushes()
		require.Len(t, pushes, 3)
		assert.Equal(t, a.ID, pushes[0].ClientID)
		assert.Equal(t, b.ID, pushes[1].ClientID)
		assert.Equal(t, a.ID, pushes[2].ClientID)
		assert.Equal(t, syncDomain.OperationUpdate, pushes[2].Operation)
		assert.NotEmpty(t, pushes[2].ServerID)

		gotA := f.get(t, a.ID)
		assert.Equal(t, syncDomain.StatusSynced, gotA.SyncStatus)
		assert.Empty(t, gotA.PendingChangeSet)
		assert.NotEmpty(t, gotA.ServerID)
		assert.Equal(t, "done", f.server.fields(gotA.ServerID)["status"])

		// the next pull sees only our own writes and changes nothing
		report = f.sync(t)
		assert.Zero(t, report.Pulled)
		assert.Zero(t, report.Conflicts)
	})

	t.Run("transient failure stops the push phase", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 3; i++ {
			_, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"n": i})
			require.NoError(t, err)
		}

		calls := 0
		f.server.setPushErr(func(m syncDomain.Mutation) error {
			calls++
			if calls == 2 {
				return apperrors.Transient(errors.New("timeout"))
			}
			return nil
		})

		report := f.sync(t)
		assert.Equal(t, 1, report.Pushed)
		assert.True(t, report.Offline)
		assert.Equal(t, 2, report.Remaining)
		assert.Equal(t, 2, calls)

		entries := f.pending(t)
		require.Len(t, entries, 2)
		assert.Equal(t, 1, entries[0].Attempts)
		assert.Contains(t, entries[0].LastError, "timeout")
		assert.Zero(t, entries[1].Attempts)

		// back online: remaining entries go out in order with the same keys
		f.server.setPushErr(nil)
		report = f.sync(t)
		assert.Equal(t, 2, report.Pushed)
		assert.Zero(t, report.Remaining)
		assert.Len(t, f.server.pushes(), 3)
	})

	t.Run("lost ack is not applied twice", func(t *testing.T) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)
		entries := f.pending(t)

		// the server applies the push but the response never arrives
		_, err = f.server.Push(ctx, syncDomain.Mutation{
			EntityType: "work_order",
			ClientID:   entity.ID,
			Operation:  syncDomain.OperationCreate,
			Fields:     map[string]any{"status": "open"},
		}, entries[0].IdempotencyKey)
		require.NoError(t, err)

		report := f.sync(t)
		assert.Zero(t, report.Conflicts)
		assert.Zero(t, report.Remaining)
		assert.Len(t, f.server.pushes(), 1)

		got := f.get(t, entity.ID)
		assert.Equal(t, syncDomain.StatusSynced, got.SyncStatus)
		assert.NotEmpty(t, got.ServerID)
	})

	t.Run("permanent rejection moves the entity to conflict", func(t *testing.T) {
		f := newFixture(t)
		rejected, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "bogus"})
		require.NoError(t, err)
		_, err = f.engine.Write(ctx, "work_order", rejected.ID, map[string]any{"hours": 1})
		require.NoError(t, err)
		ok, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)

		f.server.setPushErr(func(m syncDomain.Mutation) error {
			if m.ClientID == rejected.ID {
				return apperrors.Permanent(errors.New("invalid status"))
			}
			return nil
		})

		report := f.sync(t)
		assert.Equal(t, 1, report.Rejected)
		assert.Equal(t, 1, report.Blocked)
		assert.Equal(t, 1, report.Pushed)
		assert.Equal(t, 2, report.Remaining)

		got := f.get(t, rejected.ID)
		assert.Equal(t, syncDomain.StatusConflict, got.SyncStatus)
		assert.Contains(t, got.ConflictReason, "invalid status")
		for _, entry := range f.pending(t) {
			assert.Equal(t, syncDomain.EntryBlocked, entry.Status)
		}
		assert.Equal(t, syncDomain.StatusSynced, f.get(t, ok.ID).SyncStatus)

		_, err = f.engine.Write(ctx, "work_order", rejected.ID, map[string]any{"hours": 2})
		assert.ErrorIs(t, err, apperrors.ErrSyncConflict)

		conflicts, err := f.engine.Conflicts(ctx)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)

		suggestion, err := f.engine.SuggestResolution(ctx, rejected.ID)
		require.NoError(t, err)
		assert.False(t, suggestion.Resolvable)

		_, err = f.engine.ResolveConflict(ctx, rejected.ID, syncDomain.StrategyAuto)
		assert.ErrorIs(t, err, syncDomain.ErrUnresolvable)

		resolved, err := f.engine.ResolveConflict(ctx, rejected.ID, syncDomain.StrategyAcceptServer)
		require.NoError(t, err)
		assert.Equal(t, syncDomain.StatusSynced, resolved.SyncStatus)
		assert.Empty(t, resolved.Fields)
		assert.Empty(t, f.pending(t))
	})
}

func TestEngine_SyncNow_Pull(t *testing.T) {
	ctx := context.Background()

	t.Run("new server entities are stored as synced", func(t *testing.T) {
		f := newFixture(t)
		serverID := f.server.seed("work_order", map[string]any{"status": "open"})

		report := f.sync(t)
		assert.Equal(t, 1, report.Pulled)

		var local *syncDomain.Entity
		require.NoError(t, f.engine.store.View(ctx, func(tx syncDomain.Tx) error {
			var err error
			local, err = tx.FindByServerID(serverID)
			return err
		}))
		assert.Equal(t, syncDomain.StatusSynced, local.SyncStatus)
		assert.Equal(t, "open", local.Fields["status"])

		// server edit on a synced entity is applied
		f.server.edit(serverID, map[string]any{"status": "assigned"})
		report = f.sync(t)
		assert.Equal(t, 1, report.Pulled)
		assert.Equal(t, "assigned", f.get(t, local.ID).Fields["status"])
	})

	t.Run("divergent edit becomes a conflict", func(t *testing.T) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open", "hours": 1})
		require.NoError(t, err)
		f.sync(t)
		serverID := f.get(t, entity.ID).ServerID

		f.server.edit(serverID, map[string]any{"hours": 3})
		_, err = f.engine.Write(ctx, "work_order", entity.ID, map[string]any{"hours": 5})
		require.NoError(t, err)

		report := f.sync(t)
		assert.Equal(t, 1, report.Conflicts)
		assert.Equal(t, 1, report.Blocked)
		assert.Zero(t, report.Pushed)

		got := f.get(t, entity.ID)
		assert.Equal(t, syncDomain.StatusConflict, got.SyncStatus)
		require.NotNil(t, got.ServerSnapshot)
		assert.Equal(t, float64(3), got.ServerSnapshot.Fields["hours"])
		assert.Equal(t, float64(5), got.Fields["hours"])
		assert.Equal(t, float64(3), f.server.fields(serverID)["hours"])

		// a later server change refreshes the snapshot
		f.server.edit(serverID, map[string]any{"hours": 4})
		f.sync(t)
		got = f.get(t, entity.ID)
		assert.Equal(t, float64(4), got.ServerSnapshot.Fields["hours"])
	})

	t.Run("watermark only moves forward", func(t *testing.T) {
		f := newFixture(t)
		f.server.seed("work_order", map[string]any{"status": "open"})
		f.sync(t)

		var first time.Time
		require.NoError(t, f.engine.store.View(ctx, func(tx syncDomain.Tx) error {
			var err error
			first, err = tx.Watermark()
			return err
		}))
		assert.False(t, first.IsZero())

		report := f.sync(t)
		assert.Zero(t, report.Pulled)

		var second time.Time
		require.NoError(t, f.engine.store.View(ctx, func(tx syncDomain.Tx) error {
			var err error
			second, err = tx.Watermark()
			return err
		}))
		assert.True(t, first.Equal(second))
	})

	t.Run("permanent pull error is returned after pushing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)
		f.server.setPullErr(apperrors.Permanent(errors.New("change page too large")))

		report, err := f.engine.SyncNow(ctx)
		assert.ErrorContains(t, err, "change page too large")
		assert.True(t, apperrors.IsPermanent(err))
		assert.False(t, report.Offline)
		assert.Equal(t, 1, report.Pushed)
		assert.Len(t, f.server.pushes(), 1)
		assert.Empty(t, f.pending(t))
	})
}

func TestEngine_ResolveConflict(t *testing.T) {
	ctx := context.Background()

	// conflicted prepares an entity synced once, then edited on both sides.
	conflicted := func(t *testing.T, local, server map[string]any) (*fixture, *syncDomain.Entity, string) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{
			"status": "assigned",
			"hours":  1,
			"photos": []string{"a.jpg"},
		})
		require.NoError(t, err)
		f.sync(t)
		serverID := f.get(t, entity.ID).ServerID

		f.server.edit(serverID, server)
		_, err = f.engine.Write(ctx, "work_order", entity.ID, local)
		require.NoError(t, err)
		f.sync(t)
		require.Equal(t, syncDomain.StatusConflict, f.get(t, entity.ID).SyncStatus)
		return f, entity, serverID
	}

	t.Run("auto keeps local completion", func(t *testing.T) {
		f, entity, serverID := conflicted(t,
			map[string]any{"status": "completed"},
			map[string]any{"hours": 2},
		)
		staleKey := f.pending(t)[0].IdempotencyKey

		suggestion, err := f.engine.SuggestResolution(ctx, entity.ID)
		require.NoError(t, err)
		assert.Equal(t, syncDomain.StrategyKeepLocal, suggestion.Strategy)

		resolved, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyAuto)
		require.NoError(t, err)
		assert.Equal(t, syncDomain.StatusPending, resolved.SyncStatus)
		assert.Nil(t, resolved.ServerSnapshot)

		entries := f.pending(t)
		require.Len(t, entries, 1)
		assert.NotEqual(t, staleKey, entries[0].IdempotencyKey)
		assert.Equal(t, syncDomain.EntryQueued, entries[0].Status)
		assert.Equal(t, "completed", entries[0].ChangeSet["status"].New)

		f.sync(t)
		assert.Equal(t, "completed", f.server.fields(serverID)["status"])
		assert.Equal(t, syncDomain.StatusSynced, f.get(t, entity.ID).SyncStatus)
	})

	t.Run("auto accepts server cancellation", func(t *testing.T) {
		f, entity, _ := conflicted(t,
			map[string]any{"hours": 4},
			map[string]any{"status": "cancelled"},
		)

		resolved, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyAuto)
		require.NoError(t, err)
		assert.Equal(t, syncDomain.StatusSynced, resolved.SyncStatus)
		assert.Equal(t, "cancelled", resolved.Fields["status"])
		assert.Equal(t, float64(1), resolved.Fields["hours"])
		assert.Empty(t, f.pending(t))
	})

	t.Run("local completion against server terminal needs an operator", func(t *testing.T) {
		f, entity, _ := conflicted(t,
			map[string]any{"status": "completed"},
			map[string]any{"status": "cancelled"},
		)

		_, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyAuto)
		assert.ErrorIs(t, err, syncDomain.ErrUnresolvable)

		resolved, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyKeepLocal)
		require.NoError(t, err)
		assert.Equal(t, "completed", resolved.Fields["status"])
	})

	t.Run("completed on both sides merges notes", func(t *testing.T) {
		f, entity, serverID := conflicted(t,
			map[string]any{"status": "completed", "notes": []string{"replaced valve"}},
			map[string]any{"status": "completed"},
		)

		suggestion, err := f.engine.SuggestResolution(ctx, entity.ID)
		require.NoError(t, err)
		assert.True(t, suggestion.Resolvable)
		assert.Equal(t, syncDomain.StrategyMerge, suggestion.Strategy)

		resolved, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyAuto)
		require.NoError(t, err)
		assert.Equal(t, "completed", resolved.Fields["status"])
		assert.Equal(t, []any{"replaced valve"}, resolved.Fields["notes"])

		f.sync(t)
		server := f.server.fields(serverID)
		assert.Equal(t, "completed", server["status"])
		assert.Equal(t, []any{"replaced valve"}, server["notes"])
		assert.Equal(t, syncDomain.StatusSynced, f.get(t, entity.ID).SyncStatus)
	})

	t.Run("auto merges additive and untouched fields", func(t *testing.T) {
		f, entity, serverID := conflicted(t,
			map[string]any{"photos": []string{"a.jpg", "b.jpg"}, "hours": 5},
			map[string]any{"photos": []string{"a.jpg", "c.jpg"}, "status": "in_progress"},
		)

		resolved, err := f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyAuto)
		require.NoError(t, err)
		assert.Equal(t, []any{"a.jpg", "c.jpg", "b.jpg"}, resolved.Fields["photos"])
		assert.Equal(t, float64(5), resolved.Fields["hours"])
		assert.Equal(t, "in_progress", resolved.Fields["status"])

		f.sync(t)
		server := f.server.fields(serverID)
		assert.Equal(t, []any{"a.jpg", "c.jpg", "b.jpg"}, server["photos"])
		assert.Equal(t, float64(5), server["hours"])
	})

	t.Run("errors", func(t *testing.T) {
		f := newFixture(t)
		entity, err := f.engine.Write(ctx, "work_order", uuid.Nil, map[string]any{"status": "open"})
		require.NoError(t, err)

		_, err = f.engine.ResolveConflict(ctx, entity.ID, "coin_flip")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = f.engine.ResolveConflict(ctx, entity.ID, syncDomain.StrategyMerge)
		assert.ErrorIs(t, err, syncDomain.ErrNotInConflict)

		_, err = f.engine.SuggestResolution(ctx, entity.ID)
		assert.ErrorIs(t, err, syncDomain.ErrNotInConflict)

		_, err = f.engine.ResolveConflict(ctx, uuid.Must(uuid.NewV7()), syncDomain.StrategyMerge)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestEngine_SyncNow_OneAtATime(t *testing.T) {
	f := newFixture(t)
	f.server.pullGate = make(chan struct{})
	f.server.inPull = make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.engine.SyncNow(context.Background())
	}()
	<-f.server.inPull

	_, err := f.engine.SyncNow(context.Background())
	assert.ErrorIs(t, err, syncDomain.ErrSyncInProgress)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(f.server.pullGate)
	wg.Wait()
}

func TestEngine_Run(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Write(context.Background(), "work_order", uuid.Nil, map[string]any{"status": "open"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	f.engine.NotifyOnline()
	f.engine.NotifyOnline()

	assert.Eventually(t, func() bool {
		return len(f.server.pushes()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_Run_RecoversAfterGoingOffline(t *testing.T) {
	f := newFixture(t)
	f.engine = newEngine(f.engine.store, f.server, Config{Interval: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time { return f.now })

	_, err := f.engine.Write(context.Background(), "work_order", uuid.Nil, map[string]any{"status": "open"})
	require.NoError(t, err)
	f.server.setPullErr(apperrors.Transient(errors.New("no signal")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	// the daemon signals once at startup and never again
	f.engine.NotifyOnline()
	require.Eventually(t, func() bool { return f.server.pullCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.server.pushes())

	f.server.setPullErr(nil)
	assert.Eventually(t, func() bool {
		return len(f.server.pushes()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
