package usecase

import (
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/resilience/internal/alert"
	auditRepository "github.com/fieldops/resilience/internal/audit/repository"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	cryptoDomain "github.com/fieldops/resilience/internal/crypto/domain"
	cryptoService "github.com/fieldops/resilience/internal/crypto/service"
	"github.com/fieldops/resilience/internal/database"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	queueRepository "github.com/fieldops/resilience/internal/queue/repository"
)

type fixture struct {
	queue     *queue
	repo      *queueRepository.MemoryJobRepository
	auditRepo *auditRepository.MemoryAuditLogRepository
	alerts    *alert.Recorder
	sealer    Sealer
	now       time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() queueDomain.Policy {
	return queueDomain.Policy{
		Concurrency:      2,
		MaxAttempts:      3,
		PollInterval:     10 * time.Millisecond,
		JobTimeout:       time.Second,
		StaleLockTimeout: 5 * time.Minute,
		Backoff: queueDomain.BackoffPolicy{
			Base:       time.Second,
			Cap:        time.Minute,
			Multiplier: 2,
		},
	}
}

func newTestSealer(t *testing.T) Sealer {
	t.Helper()
	key := make([]byte, cryptoDomain.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := cryptoService.NewPayloadSealer(cryptoService.NewAEADManager(), key, cryptoDomain.AESGCM)
	require.NoError(t, err)
	return sealer
}

func newFixture(t *testing.T, policies map[string]queueDomain.Policy) *fixture {
	t.Helper()
	f := &fixture{
		repo:      queueRepository.NewMemoryJobRepository(),
		auditRepo: auditRepository.NewMemoryAuditLogRepository(),
		alerts:    alert.NewRecorder(),
		sealer:    newTestSealer(t),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.queue = newQueue(
		Config{Queues: policies},
		database.NewNoopTxManager(),
		f.repo,
		f.sealer,
		auditUseCase.NewAuditLogUseCase(f.auditRepo),
		f.alerts,
		testLogger(),
		func() time.Time { return f.now },
	)
	return f
}

func input(queue, key string, priority int) queueDomain.EnqueueInput {
	return queueDomain.EnqueueInput{
		Queue:          queue,
		JobType:        "tax.stamp_invoice",
		Service:        "tax_authority",
		IdempotencyKey: key,
		Payload:        []byte(`{"invoice_id":"inv-1"}`),
		Priority:       priority,
	}
}
