package app

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sync"

	auditRepository "github.com/fieldops/resilience/internal/audit/repository"
	auditUseCase "github.com/fieldops/resilience/internal/audit/usecase"
	cryptoDomain "github.com/fieldops/resilience/internal/crypto/domain"
	cryptoService "github.com/fieldops/resilience/internal/crypto/service"
	fallbackUseCase "github.com/fieldops/resilience/internal/fallback/usecase"
	healthUseCase "github.com/fieldops/resilience/internal/health/usecase"
	idempotencyRepository "github.com/fieldops/resilience/internal/idempotency/repository"
	idempotencyUseCase "github.com/fieldops/resilience/internal/idempotency/usecase"
	"github.com/fieldops/resilience/internal/provider"
	queueRepository "github.com/fieldops/resilience/internal/queue/repository"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
	"github.com/fieldops/resilience/internal/scheduler"
)

// resilienceComponents holds the use cases shared by the server, the workers and the CLI.
type resilienceComponents struct {
	auditLogUseCase auditUseCase.AuditLogUseCase
	ledger          idempotencyUseCase.Ledger
	monitor         healthUseCase.Monitor
	sealer          queueUseCase.Sealer
	jobRepo         queueUseCase.JobRepository
	queue           queueUseCase.Queue
	registry        *fallbackUseCase.Registry
	router          fallbackUseCase.Router

	auditInit    sync.Once
	ledgerInit   sync.Once
	monitorInit  sync.Once
	sealerInit   sync.Once
	jobRepoInit  sync.Once
	queueInit    sync.Once
	registryInit sync.Once
	routerInit   sync.Once
}

// AuditLogUseCase returns the audit log use case.
func (c *Container) AuditLogUseCase() (auditUseCase.AuditLogUseCase, error) {
	var err error
	c.resilience.auditInit.Do(func() {
		c.resilience.auditLogUseCase, err = c.initAuditLogUseCase()
		if err != nil {
			c.initErrors["auditLogUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["auditLogUseCase"]; exists {
		return nil, storedErr
	}
	return c.resilience.auditLogUseCase, nil
}

// Ledger returns the idempotency ledger on the store selected by IDEMPOTENCY_STORE.
func (c *Container) Ledger() (idempotencyUseCase.Ledger, error) {
	var err error
	c.resilience.ledgerInit.Do(func() {
		c.resilience.ledger, err = c.initLedger()
		if err != nil {
			c.initErrors["ledger"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["ledger"]; exists {
		return nil, storedErr
	}
	return c.resilience.ledger, nil
}

// Monitor returns the health monitor.
func (c *Container) Monitor() (healthUseCase.Monitor, error) {
	var err error
	c.resilience.monitorInit.Do(func() {
		c.resilience.monitor, err = c.initMonitor()
		if err != nil {
			c.initErrors["monitor"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["monitor"]; exists {
		return nil, storedErr
	}
	return c.resilience.monitor, nil
}

// Sealer returns the payload sealer, a pass-through when payload encryption is disabled.
func (c *Container) Sealer() (queueUseCase.Sealer, error) {
	var err error
	c.resilience.sealerInit.Do(func() {
		c.resilience.sealer, err = c.initSealer()
		if err != nil {
			c.initErrors["sealer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sealer"]; exists {
		return nil, storedErr
	}
	return c.resilience.sealer, nil
}

// JobRepository returns the job repository selected by QUEUE_STORE and DB_DRIVER.
func (c *Container) JobRepository() (queueUseCase.JobRepository, error) {
	var err error
	c.resilience.jobRepoInit.Do(func() {
		c.resilience.jobRepo, err = c.initJobRepository()
		if err != nil {
			c.initErrors["jobRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["jobRepository"]; exists {
		return nil, storedErr
	}
	return c.resilience.jobRepo, nil
}

// Queue returns the durable job queue.
func (c *Container) Queue() (queueUseCase.Queue, error) {
	var err error
	c.resilience.queueInit.Do(func() {
		c.resilience.queue, err = c.initQueue()
		if err != nil {
			c.initErrors["queue"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["queue"]; exists {
		return nil, storedErr
	}
	return c.resilience.queue, nil
}

// Registry returns the action registry with every configured provider registered.
func (c *Container) Registry() (*fallbackUseCase.Registry, error) {
	var err error
	c.resilience.registryInit.Do(func() {
		c.resilience.registry, err = c.initRegistry()
		if err != nil {
			c.initErrors["registry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["registry"]; exists {
		return nil, storedErr
	}
	return c.resilience.registry, nil
}

// Router returns the fallback router.
func (c *Container) Router() (fallbackUseCase.Router, error) {
	var err error
	c.resilience.routerInit.Do(func() {
		c.resilience.router, err = c.initRouter()
		if err != nil {
			c.initErrors["router"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["router"]; exists {
		return nil, storedErr
	}
	return c.resilience.router, nil
}

// Workers builds one worker per configured queue. Each call returns fresh workers.
func (c *Container) Workers() ([]*queueUseCase.Worker, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for workers: %w", err)
	}
	jobRepo, err := c.JobRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get job repository for workers: %w", err)
	}
	sealer, err := c.Sealer()
	if err != nil {
		return nil, fmt.Errorf("failed to get sealer for workers: %w", err)
	}
	alerter, err := c.Alerter()
	if err != nil {
		return nil, fmt.Errorf("failed to get alerter for workers: %w", err)
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for workers: %w", err)
	}
	router, err := c.Router()
	if err != nil {
		return nil, fmt.Errorf("failed to get router for workers: %w", err)
	}

	handlers := router.Handlers()
	queues := queueConfig(policies).Queues
	workers := make([]*queueUseCase.Worker, 0, len(queues))
	for name, policy := range queues {
		workers = append(workers, queueUseCase.NewWorker(
			queueUseCase.WorkerConfig{
				Queue:    name,
				WorkerID: c.config.WorkerID,
				Policy:   policy,
			},
			txManager,
			jobRepo,
			handlers,
			sealer,
			alerter,
			businessMetrics,
			c.Logger(),
		))
	}
	return workers, nil
}

// Scheduler builds the maintenance scheduler guarded by the configured locker.
func (c *Container) Scheduler() (*scheduler.Scheduler, error) {
	queue, err := c.Queue()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue for scheduler: %w", err)
	}
	ledger, err := c.Ledger()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger for scheduler: %w", err)
	}
	locker, err := c.Locker()
	if err != nil {
		return nil, fmt.Errorf("failed to get locker for scheduler: %w", err)
	}

	tasks := scheduler.MaintenanceTasks(scheduler.Schedules{
		ReapStaleJobs:    c.config.ReapStaleJobsSchedule,
		PurgeIdempotency: c.config.PurgeIdempotencySchedule,
		CheckDeadLetters: c.config.DeadLetterCheckSchedule,
	}, queue, ledger, c.Logger())

	return scheduler.New(tasks, locker, 0, c.Logger())
}

func (c *Container) initAuditLogUseCase() (auditUseCase.AuditLogUseCase, error) {
	if c.config.QueueStore == StoreMemory {
		return auditUseCase.NewAuditLogUseCase(auditRepository.NewMemoryAuditLogRepository()), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for audit log repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return auditUseCase.NewAuditLogUseCase(auditRepository.NewMySQLAuditLogRepository(db)), nil
	case "postgres":
		return auditUseCase.NewAuditLogUseCase(auditRepository.NewPostgreSQLAuditLogRepository(db)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initLedger() (idempotencyUseCase.Ledger, error) {
	var store idempotencyUseCase.Store
	switch c.config.IdempotencyStore {
	case StoreMemory:
		store = idempotencyRepository.NewMemoryStore()
	case StoreRedis:
		client, err := c.RedisClient()
		if err != nil {
			return nil, fmt.Errorf("failed to get redis client for idempotency store: %w", err)
		}
		store = idempotencyRepository.NewRedisStore(client)
	case StoreDatabase:
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for idempotency store: %w", err)
		}
		switch c.config.DBDriver {
		case "mysql":
			store = idempotencyRepository.NewMySQLStore(db)
		case "postgres":
			store = idempotencyRepository.NewPostgreSQLStore(db)
		default:
			return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	default:
		return nil, fmt.Errorf("unsupported idempotency store: %s", c.config.IdempotencyStore)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for ledger: %w", err)
	}

	ledger := idempotencyUseCase.NewLedger(store, idempotencyUseCase.Config{
		DefaultTTL:   c.config.IdempotencyDefaultTTL,
		LockTTL:      c.config.IdempotencyLockTTL,
		PollInterval: c.config.IdempotencyPollInterval,
		WaitTimeout:  c.config.IdempotencyWaitTimeout,
	}, c.Logger())
	return idempotencyUseCase.NewLedgerWithMetrics(ledger, businessMetrics), nil
}

func (c *Container) initMonitor() (healthUseCase.Monitor, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}
	auditLogUseCase, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log use case for monitor: %w", err)
	}
	alerter, err := c.Alerter()
	if err != nil {
		return nil, fmt.Errorf("failed to get alerter for monitor: %w", err)
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for monitor: %w", err)
	}

	return healthUseCase.NewMonitor(healthConfig(policies), auditLogUseCase, alerter, businessMetrics, c.Logger()), nil
}

func (c *Container) initSealer() (queueUseCase.Sealer, error) {
	if !c.config.PayloadEncryptionEnabled {
		return cryptoService.NoopSealer{}, nil
	}

	sealer, err := cryptoService.OpenPayloadSealer(
		context.Background(),
		cryptoService.NewKMSService(),
		cryptoService.NewAEADManager(),
		c.config.PayloadKeyURI,
		c.config.PayloadWrappedKey,
		cryptoDomain.Algorithm(c.config.PayloadAlgorithm),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload sealer: %w", err)
	}
	return sealer, nil
}

func (c *Container) initJobRepository() (queueUseCase.JobRepository, error) {
	switch c.config.QueueStore {
	case StoreMemory:
		return queueRepository.NewMemoryJobRepository(), nil
	case StoreDatabase:
	default:
		return nil, fmt.Errorf("unsupported queue store: %s", c.config.QueueStore)
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for job repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return queueRepository.NewMySQLJobRepository(db), nil
	case "postgres":
		return queueRepository.NewPostgreSQLJobRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initQueue() (queueUseCase.Queue, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for queue: %w", err)
	}
	jobRepo, err := c.JobRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get job repository for queue: %w", err)
	}
	sealer, err := c.Sealer()
	if err != nil {
		return nil, fmt.Errorf("failed to get sealer for queue: %w", err)
	}
	auditLogUseCase, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log use case for queue: %w", err)
	}
	alerter, err := c.Alerter()
	if err != nil {
		return nil, fmt.Errorf("failed to get alerter for queue: %w", err)
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for queue: %w", err)
	}

	queue := queueUseCase.NewQueue(
		queueConfig(policies),
		txManager,
		jobRepo,
		sealer,
		auditLogUseCase,
		alerter,
		c.Logger(),
	)
	return queueUseCase.NewQueueWithMetrics(queue, businessMetrics), nil
}

func (c *Container) initRegistry() (*fallbackUseCase.Registry, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}

	registry := fallbackUseCase.NewRegistry()
	// per-call deadlines come from the service policy
	providers, err := provider.Register(context.Background(), registry, policies, &nethttp.Client{}, c.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	c.mu.Lock()
	c.providers = providers
	c.mu.Unlock()
	return registry, nil
}

func (c *Container) initRouter() (fallbackUseCase.Router, error) {
	policies, err := c.Policies()
	if err != nil {
		return nil, err
	}
	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}
	ledger, err := c.Ledger()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger for router: %w", err)
	}
	monitor, err := c.Monitor()
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor for router: %w", err)
	}
	queue, err := c.Queue()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue for router: %w", err)
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for router: %w", err)
	}

	router := fallbackUseCase.NewRouter(routerConfig(policies), registry, ledger, monitor, queue, c.Logger())
	return fallbackUseCase.NewRouterWithMetrics(router, businessMetrics), nil
}
