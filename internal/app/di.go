// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fieldops/resilience/internal/alert"
	"github.com/fieldops/resilience/internal/config"
	"github.com/fieldops/resilience/internal/database"
	"github.com/fieldops/resilience/internal/http"
	"github.com/fieldops/resilience/internal/lock"
	"github.com/fieldops/resilience/internal/metrics"
	"github.com/fieldops/resilience/internal/provider"
	syncRepository "github.com/fieldops/resilience/internal/sync/repository"
)

// Store and backend selectors accepted in configuration.
const (
	StoreDatabase = "database"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
	LockNone      = "none"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config   *config.Config
	policies *config.Policies

	// Infrastructure
	logger      *slog.Logger
	db          *sql.DB
	redisClient redis.UniversalClient
	txManager   database.TxManager
	locker      lock.Locker
	alerter     alert.Alerter
	topicAlert  *alert.TopicAlerter

	// Metrics
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Components
	resilience resilienceComponents
	providers  *provider.Providers
	syncStore  *syncRepository.BadgerStore

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	policiesInit        sync.Once
	loggerInit          sync.Once
	dbInit              sync.Once
	redisInit           sync.Once
	txManagerInit       sync.Once
	lockerInit          sync.Once
	alerterInit         sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// Policies returns the service and queue policies, loaded from the YAML file
// named by SERVICES_CONFIG_FILE over the built-in defaults.
func (c *Container) Policies() (*config.Policies, error) {
	var err error
	c.policiesInit.Do(func() {
		c.policies, err = config.LoadPolicies(c.config.ServicesConfigFile)
		if err != nil {
			c.initErrors["policies"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policies"]; exists {
		return nil, storedErr
	}
	return c.policies, nil
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// RedisClient returns the Redis client used by the redis idempotency store and locker.
func (c *Container) RedisClient() (redis.UniversalClient, error) {
	var err error
	c.redisInit.Do(func() {
		c.redisClient, err = c.initRedisClient()
		if err != nil {
			c.initErrors["redis"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["redis"]; exists {
		return nil, storedErr
	}
	return c.redisClient, nil
}

// TxManager returns the transaction manager. In-memory stores get a no-op manager.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// Locker returns the distributed lock used to run scheduled tasks on one instance.
func (c *Container) Locker() (lock.Locker, error) {
	var err error
	c.lockerInit.Do(func() {
		c.locker, err = c.initLocker()
		if err != nil {
			c.initErrors["locker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["locker"]; exists {
		return nil, storedErr
	}
	return c.locker, nil
}

// Alerter returns the operator alert sink: the log, plus a pub/sub topic when configured.
func (c *Container) Alerter() (alert.Alerter, error) {
	var err error
	c.alerterInit.Do(func() {
		c.alerter, err = c.initAlerter()
		if err != nil {
			c.initErrors["alerter"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["alerter"]; exists {
		return nil, storedErr
	}
	return c.alerter, nil
}

// MetricsProvider returns the Prometheus backed meter provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the domain metrics recorder, a no-op when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.providers != nil {
		if err := c.providers.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("providers shutdown: %w", err))
		}
	}

	if c.topicAlert != nil {
		if err := c.topicAlert.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("alert topic shutdown: %w", err))
		}
	}

	if c.syncStore != nil {
		if err := c.syncStore.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("sync store close: %w", err))
		}
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("redis close: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (c *Container) initRedisClient() (redis.UniversalClient, error) {
	if c.config.RedisAddress == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.config.RedisAddress,
		Password: c.config.RedisPassword,
		DB:       c.config.RedisDB,
	}), nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	if c.config.QueueStore == StoreMemory {
		return database.NewNoopTxManager(), nil
	}
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	if c.config.DBDriver == "mysql" {
		// claims lock the jobs index; repeatable read would also take gap locks
		return database.NewTxManagerWithOptions(db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}), nil
	}
	return database.NewTxManager(db), nil
}

func (c *Container) initLocker() (lock.Locker, error) {
	switch c.config.LockBackend {
	case StoreRedis:
		client, err := c.RedisClient()
		if err != nil {
			return nil, fmt.Errorf("failed to get redis client for locker: %w", err)
		}
		return lock.NewRedisLocker(client), nil
	case StoreDatabase:
		db, err := c.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database for locker: %w", err)
		}
		switch c.config.DBDriver {
		case "mysql":
			return lock.NewMySQLLocker(db), nil
		case "postgres":
			return lock.NewPostgresLocker(db), nil
		default:
			return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	case LockNone, "":
		return lock.NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", c.config.LockBackend)
	}
}

func (c *Container) initAlerter() (alert.Alerter, error) {
	logAlerter := alert.NewLogAlerter(c.Logger())
	if c.config.AlertTopicURL == "" {
		return logAlerter, nil
	}

	topicAlerter, err := alert.OpenTopicAlerter(context.Background(), c.config.AlertTopicURL)
	if err != nil {
		return nil, err
	}
	c.topicAlert = topicAlerter
	return alert.NewMultiAlerter(logAlerter, topicAlerter), nil
}

func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}
