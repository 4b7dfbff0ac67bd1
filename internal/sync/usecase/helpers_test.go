package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fieldops/resilience/internal/errors"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
	syncRepository "github.com/fieldops/resilience/internal/sync/repository"
)

// fakeServer is an in-memory server of record that deduplicates pushes by key.
type fakeServer struct {
	mu       sync.Mutex
	clock    time.Time
	nextID   int
	entities map[string]*syncDomain.ServerEntity
	byClient map[uuid.UUID]string
	acks     map[string]*syncDomain.Ack
	pushed   []syncDomain.Mutation
	pulls    int

	pullErr   error
	pushErrFn func(m syncDomain.Mutation) error
	pullGate  chan struct{}
	inPull    chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		entities: make(map[string]*syncDomain.ServerEntity),
		byClient: make(map[uuid.UUID]string),
		acks:     make(map[string]*syncDomain.Ack),
	}
}

func (s *fakeServer) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *fakeServer) Pull(ctx context.Context, since time.Time) (*syncDomain.ChangeSetPage, error) {
	if s.pullGate != nil {
		s.inPull <- struct{}{}
		select {
		case <-s.pullGate:
		case <-ctx.Done():
			return nil, apperrors.Transient(ctx.Err())
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if s.pullErr != nil {
		return nil, s.pullErr
	}

	page := &syncDomain.ChangeSetPage{Watermark: since}
	for _, e := range s.entities {
		if e.UpdatedAt.After(since) {
			copied := *e
			copied.Fields = syncDomain.CloneFields(e.Fields)
			page.Entities = append(page.Entities, copied)
			if e.UpdatedAt.After(page.Watermark) {
				page.Watermark = e.UpdatedAt
			}
		}
	}
	return page, nil
}

func (s *fakeServer) Push(ctx context.Context, m syncDomain.Mutation, key string) (*syncDomain.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ack, ok := s.acks[key]; ok {
		return ack, nil
	}
	if s.pushErrFn != nil {
		if err := s.pushErrFn(m); err != nil {
			return nil, err
		}
	}
	s.pushed = append(s.pushed, m)

	serverID := m.ServerID
	if serverID == "" {
		serverID = s.byClient[m.ClientID]
	}
	entity, ok := s.entities[serverID]
	if !ok {
		s.nextID++
		serverID = fmt.Sprintf("srv-%d", s.nextID)
		clientID := m.ClientID
		entity = &syncDomain.ServerEntity{
			ID:         serverID,
			ClientID:   &clientID,
			EntityType: m.EntityType,
			Fields:     map[string]any{},
		}
		s.entities[serverID] = entity
		s.byClient[m.ClientID] = serverID
	}
	for k, v := range m.Fields {
		entity.Fields[k] = v
	}
	entity.UpdatedAt = s.tick()

	ack := &syncDomain.Ack{ServerID: serverID, UpdatedAt: entity.UpdatedAt}
	s.acks[key] = ack
	return ack, nil
}

// edit changes an entity on the server as another user would.
func (s *fakeServer) edit(serverID string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity := s.entities[serverID]
	normalized, _ := syncDomain.Normalize(fields)
	for k, v := range normalized {
		entity.Fields[k] = v
	}
	entity.UpdatedAt = s.tick()
}

// seed creates an entity that originated on the server.
func (s *fakeServer) seed(entityType string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("srv-%d", s.nextID)
	normalized, _ := syncDomain.Normalize(fields)
	s.entities[id] = &syncDomain.ServerEntity{
		ID:         id,
		EntityType: entityType,
		Fields:     normalized,
		UpdatedAt:  s.tick(),
	}
	return id
}

func (s *fakeServer) fields(serverID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return syncDomain.CloneFields(s.entities[serverID].Fields)
}

func (s *fakeServer) pushes() []syncDomain.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]syncDomain.Mutation(nil), s.pushed...)
}

func (s *fakeServer) pullCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *fakeServer) setPullErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullErr = err
}

func (s *fakeServer) setPushErr(fn func(m syncDomain.Mutation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushErrFn = fn
}

type fixture struct {
	engine *engine
	server *fakeServer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := syncRepository.OpenBadgerStore(syncRepository.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		server: newFakeServer(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = newEngine(store, f.server, Config{Interval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		func() time.Time { return f.now })
	return f
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *syncDomain.Entity {
	t.Helper()
	entity, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return entity
}

func (f *fixture) pending(t *testing.T) []*syncDomain.QueueEntry {
	t.Helper()
	entries, err := f.engine.Pending(context.Background())
	require.NoError(t, err)
	return entries
}

func (f *fixture) sync(t *testing.T) syncDomain.Report {
	t.Helper()
	report, err := f.engine.SyncNow(context.Background())
	require.NoError(t, err)
	return report
}
