package app

import (
	"context"
	"database/sql"
	"fmt"

	auditHTTP "github.com/fieldops/resilience/internal/audit/http"
	fallbackHTTP "github.com/fieldops/resilience/internal/fallback/http"
	healthHTTP "github.com/fieldops/resilience/internal/health/http"
	"github.com/fieldops/resilience/internal/http"
	"github.com/fieldops/resilience/internal/operator"
	queueHTTP "github.com/fieldops/resilience/internal/queue/http"
)

// HTTPServer returns the API server with every route mounted.
func (c *Container) HTTPServer(ctx context.Context) (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer(ctx)
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus scrape server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		provider, providerErr := c.MetricsProvider()
		if providerErr != nil {
			err = providerErr
			c.initErrors["metricsServer"] = err
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider)
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

func (c *Container) initHTTPServer(ctx context.Context) (*http.Server, error) {
	logger := c.Logger()

	monitor, err := c.Monitor()
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor for http server: %w", err)
	}
	queue, err := c.Queue()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue for http server: %w", err)
	}
	router, err := c.Router()
	if err != nil {
		return nil, fmt.Errorf("failed to get router for http server: %w", err)
	}
	auditLogUseCase, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log use case for http server: %w", err)
	}
	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	// readiness reports on the database only when something is stored in it
	var db *sql.DB
	if c.usesDatabase() {
		if db, err = c.DB(); err != nil {
			return nil, fmt.Errorf("failed to get database for http server: %w", err)
		}
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(ctx, c.config, http.Handlers{
		Health: healthHTTP.NewHealthHandler(monitor, logger),
		Queue:  queueHTTP.NewQueueHandler(queue, logger),
		Action: fallbackHTTP.NewActionHandler(router, logger),
		Audit:  auditHTTP.NewAuditLogHandler(auditLogUseCase, logger),
	}, operator.NewTokenService(), metricsProvider)

	return server, nil
}

func (c *Container) usesDatabase() bool {
	return c.config.QueueStore == StoreDatabase ||
		c.config.IdempotencyStore == StoreDatabase ||
		c.config.LockBackend == StoreDatabase
}
