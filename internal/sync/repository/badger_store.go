// Package repository persists the mobile replica and its sync queue in BadgerDB.
package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	apperrors "github.com/fieldops/resilience/internal/errors"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

// Key layout:
//
//	e/<uuid>          entity
//	s/<server id>     server id -> local uuid
//	q/<seq uint64 BE> queue entry
//	m/watermark       last pull watermark
var (
	entityPrefix   = []byte("e/")
	serverIDPrefix = []byte("s/")
	entryPrefix    = []byte("q/")
	watermarkKey   = []byte("m/watermark")
	sequenceKey    = []byte("m/seq")
)

// Config configures the badger database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// BadgerStore keeps entities and queue entries in one badger database so a local
// write and its queue entry commit together.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store.
func OpenBadgerStore(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, apperrors.New("sync data directory is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, apperrors.Wrap(err, "failed to create sync data directory")
		}
		// a queued change must survive a crash right after Write returns
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open sync store")
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx syncDomain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// View runs fn in a read-only transaction.
func (s *BadgerStore) View(ctx context.Context, fn func(tx syncDomain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func entityKey(id uuid.UUID) []byte {
	return append(append([]byte{}, entityPrefix...), id.String()...)
}

func serverIDKey(serverID string) []byte {
	return append(append([]byte{}, serverIDPrefix...), serverID...)
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

func (t *badgerTx) getJSON(key []byte, v any) error {
	item, err := t.txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *badgerTx) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, data)
}

func (t *badgerTx) GetEntity(id uuid.UUID) (*syncDomain.Entity, error) {
	var entity syncDomain.Entity
	if err := t.getJSON(entityKey(id), &entity); err != nil {
		if apperrors.Is(err, badger.ErrKeyNotFound) {
			return nil, syncDomain.ErrEntityNotFound
		}
		return nil, apperrors.Wrap(err, "failed to read entity")
	}
	return &entity, nil
}

func (t *badgerTx) FindByServerID(serverID string) (*syncDomain.Entity, error) {
	item, err := t.txn.Get(serverIDKey(serverID))
	if apperrors.Is(err, badger.ErrKeyNotFound) {
		return nil, syncDomain.ErrEntityNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read server id index")
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read server id index")
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, "corrupt server id index")
	}
	return t.GetEntity(id)
}

func (t *badgerTx) PutEntity(entity *syncDomain.Entity) error {
	if err := t.putJSON(entityKey(entity.ID), entity); err != nil {
		return apperrors.Wrap(err, "failed to write entity")
	}
	if entity.ServerID != "" {
		if err := t.txn.Set(serverIDKey(entity.ServerID), entity.ID[:]); err != nil {
			return apperrors.Wrap(err, "failed to write server id index")
		}
	}
	return nil
}

func (t *badgerTx) ListEntities(status syncDomain.SyncStatus) ([]*syncDomain.Entity, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entityPrefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []*syncDomain.Entity
	for it.Seek(entityPrefix); it.ValidForPrefix(entityPrefix); it.Next() {
		var entity syncDomain.Entity
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entity)
		})
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to read entity")
		}
		if status == "" || entity.SyncStatus == status {
			out = append(out, &entity)
		}
	}
	return out, nil
}

// AppendEntry bumps the sequence counter inside the same transaction, so an aborted
// write never consumes a number.
func (t *badgerTx) AppendEntry(entry *syncDomain.QueueEntry) error {
	var last uint64
	item, err := t.txn.Get(sequenceKey)
	switch {
	case err == nil:
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return apperrors.Wrap(err, "failed to read queue sequence")
		}
		last = binary.BigEndian.Uint64(raw)
	case !apperrors.Is(err, badger.ErrKeyNotFound):
		return apperrors.Wrap(err, "failed to read queue sequence")
	}

	entry.Seq = last + 1
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, entry.Seq)
	if err := t.txn.Set(sequenceKey, next); err != nil {
		return apperrors.Wrap(err, "failed to write queue sequence")
	}
	return t.PutEntry(entry)
}

func (t *badgerTx) PutEntry(entry *syncDomain.QueueEntry) error {
	if err := t.putJSON(entryKey(entry.Seq), entry); err != nil {
		return apperrors.Wrap(err, "failed to write queue entry")
	}
	return nil
}

func (t *badgerTx) DeleteEntry(seq uint64) error {
	if err := t.txn.Delete(entryKey(seq)); err != nil {
		return apperrors.Wrap(err, "failed to delete queue entry")
	}
	return nil
}

func (t *badgerTx) ListEntries() ([]*syncDomain.QueueEntry, error) {
	return t.listEntries(func(*syncDomain.QueueEntry) bool { return true })
}

func (t *badgerTx) ListEntityEntries(entityID uuid.UUID) ([]*syncDomain.QueueEntry, error) {
	return t.listEntries(func(e *syncDomain.QueueEntry) bool { return e.EntityID == entityID })
}

func (t *badgerTx) listEntries(keep func(*syncDomain.QueueEntry) bool) ([]*syncDomain.QueueEntry, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = entryPrefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []*syncDomain.QueueEntry
	for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
		var entry syncDomain.QueueEntry
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to read queue entry")
		}
		if keep(&entry) {
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (t *badgerTx) Watermark() (time.Time, error) {
	var watermark time.Time
	err := t.getJSON(watermarkKey, &watermark)
	if apperrors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperrors.Wrap(err, "failed to read watermark")
	}
	return watermark, nil
}

// SetWatermark never moves the watermark backwards.
func (t *badgerTx) SetWatermark(watermark time.Time) error {
	current, err := t.Watermark()
	if err != nil {
		return err
	}
	if !watermark.After(current) {
		return nil
	}
	if err := t.putJSON(watermarkKey, watermark.UTC()); err != nil {
		return apperrors.Wrap(err, "failed to write watermark")
	}
	return nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
