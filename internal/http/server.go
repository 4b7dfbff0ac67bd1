package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	auditHTTP "github.com/fieldops/resilience/internal/audit/http"
	"github.com/fieldops/resilience/internal/config"
	fallbackHTTP "github.com/fieldops/resilience/internal/fallback/http"
	healthHTTP "github.com/fieldops/resilience/internal/health/http"
	"github.com/fieldops/resilience/internal/metrics"
	"github.com/fieldops/resilience/internal/operator"
	queueHTTP "github.com/fieldops/resilience/internal/queue/http"
)

// Handlers groups the API handlers mounted by SetupRouter.
type Handlers struct {
	Health *healthHTTP.HealthHandler
	Queue  *queueHTTP.QueueHandler
	Action *fallbackHTTP.ActionHandler
	Audit  *auditHTTP.AuditLogHandler
}

// Server represents the HTTP server
type Server struct {
	db     *sql.DB
	router *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new HTTP server. db is nil when the process runs on
// in-memory stores; readiness then skips the database check.
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin engine with middleware and every API route.
//
// Read endpoints and action dispatch are open to services on the network;
// operator endpoints that change state require a bearer token.
func (s *Server) SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	handlers Handlers,
	tokens *operator.TokenService,
	metricsProvider *metrics.Provider,
) {
	gin.SetMode(cfg.GetGinMode())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))
	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	if cfg.RateLimitEnabled {
		v1.Use(RateLimitMiddleware(ctx, cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger))
	}
	requireOperator := operator.AuthenticationMiddleware(tokens, cfg.OperatorTokenHash, s.logger)

	if handlers.Action != nil {
		v1.POST("/actions", handlers.Action.PerformHandler)
	}

	if h := handlers.Health; h != nil {
		services := v1.Group("/health/services")
		services.GET("", h.ListHandler)
		services.GET("/:service", h.GetHandler)
		services.PUT("/:service/override", requireOperator, h.SetOverrideHandler)
		services.DELETE("/:service/override", requireOperator, h.ClearOverrideHandler)
	}

	if h := handlers.Queue; h != nil {
		v1.GET("/queues/:queue/status", h.StatusHandler)
		v1.GET("/queues/:queue/dead-letters", requireOperator, h.ListDeadLettersHandler)
		v1.GET("/jobs/:id", h.GetJobHandler)
		v1.POST("/jobs/:id/retry", requireOperator, h.RetryHandler)
		v1.POST("/jobs/:id/discard", requireOperator, h.DiscardHandler)
	}

	if handlers.Audit != nil {
		v1.GET("/audit-logs", requireOperator, handlers.Audit.ListHandler)
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler pings the database with a short timeout.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{}
	ready := true

	if s.db == nil {
		components["database"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("readiness check failed", slog.Any("error", err))
			components["database"] = "error"
			ready = false
		} else {
			components["database"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}
