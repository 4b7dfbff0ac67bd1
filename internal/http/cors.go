package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	fallbackHTTP "github.com/fieldops/resilience/internal/fallback/http"
	"github.com/fieldops/resilience/internal/operator"
)

// corsConfig lets browser consoles call the API: callers may send an idempotency key
// and an operator name, and can read the request id and retry hints.
func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{
			"Authorization",
			"Content-Type",
			fallbackHTTP.IdempotencyKeyHeader,
			operator.ActorHeader,
		},
		ExposeHeaders:    []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// createCORSMiddleware returns nil unless CORS is enabled with at least one origin.
// The API is meant for backends and the mobile app, so CORS is off by default.
func createCORSMiddleware(enabled bool, allowOrigins string, logger *slog.Logger) gin.HandlerFunc {
	if !enabled {
		return nil
	}

	origins := parseOrigins(allowOrigins)
	if len(origins) == 0 {
		logger.Warn("CORS enabled but no origins configured, CORS will not be applied")
		return nil
	}

	logger.Info("CORS enabled", slog.Any("origins", origins))
	return cors.New(corsConfig(origins))
}

// parseOrigins splits a comma separated list, dropping blanks.
func parseOrigins(list string) []string {
	var origins []string
	for _, part := range strings.Split(list, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
