// Package http assembles the API server: routing, middleware and the separate
// metrics listener.
package http

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	fallbackHTTP "github.com/fieldops/resilience/internal/fallback/http"
	"github.com/fieldops/resilience/internal/httputil"
	"github.com/fieldops/resilience/internal/operator"
)

// CustomLoggerMiddleware logs one line per request. Idempotency keys and operator
// names are included when sent, so a replay or an override can be traced from the
// access log alone.
func CustomLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("request_id", requestid.Get(c)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if key := c.GetHeader(fallbackHTTP.IdempotencyKeyHeader); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}
		if actor := c.GetHeader(operator.ActorHeader); actor != "" {
			attrs = append(attrs, slog.String("operator", actor))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

const (
	limiterIdleTTL       = time.Hour
	limiterSweepInterval = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// clientLimiters keeps one token bucket per client IP.
type clientLimiters struct {
	buckets sync.Map // string -> *clientLimiter
	limit   rate.Limit
	burst   int
}

func (l *clientLimiters) get(ip string, now time.Time) *rate.Limiter {
	v, ok := l.buckets.Load(ip)
	if !ok {
		v, _ = l.buckets.LoadOrStore(ip, &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)})
	}
	cl := v.(*clientLimiter)
	cl.lastSeen.Store(now.UnixNano())
	return cl.limiter
}

func (l *clientLimiters) sweep(idleSince time.Time) {
	cutoff := idleSince.UnixNano()
	l.buckets.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < cutoff {
			l.buckets.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware applies a token bucket per client IP. Rejections answer 429
// with Retry-After rounded up to whole seconds. Idle buckets are swept until ctx
// is cancelled.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, logger *slog.Logger) gin.HandlerFunc {
	limiters := &clientLimiters{limit: rate.Limit(rps), burst: burst}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiters.sweep(now.Add(-limiterIdleTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		now := time.Now()
		limiter := limiters.get(c.ClientIP(), now)

		if limiter.AllowN(now, 1) {
			c.Next()
			return
		}

		reservation := limiter.ReserveN(now, 1)
		wait := reservation.DelayFrom(now)
		reservation.CancelAt(now)
		retryAfter := max(1, int(math.Ceil(wait.Seconds())))

		logger.Debug("rate limit exceeded",
			slog.String("client_ip", c.ClientIP()),
			slog.Int("retry_after", retryAfter),
		)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httputil.ErrorResponse{
			Error:   "rate_limit_exceeded",
			Message: "Too many requests, retry after the delay in Retry-After",
		})
	}
}
