// Package http provides HTTP handlers for queue status and dead-letter operations.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/fieldops/resilience/internal/errors"
	"github.com/fieldops/resilience/internal/httputil"
	"github.com/fieldops/resilience/internal/operator"
	queueDomain "github.com/fieldops/resilience/internal/queue/domain"
	"github.com/fieldops/resilience/internal/queue/http/dto"
	queueUseCase "github.com/fieldops/resilience/internal/queue/usecase"
)

// QueueHandler handles HTTP requests for the job queue.
type QueueHandler struct {
	queue  queueUseCase.Queue
	logger *slog.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queue queueUseCase.Queue, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

// StatusHandler returns job counts per status.
// GET /v1/queues/:queue/status
func (h *QueueHandler) StatusHandler(c *gin.Context) {
	counts, err := h.queue.Status(c.Request.Context(), c.Param("queue"))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// ListDeadLettersHandler returns a page of dead-lettered jobs.
// GET /v1/queues/:queue/dead-letters?offset=0&limit=50
func (h *QueueHandler) ListDeadLettersHandler(c *gin.Context) {
	queueName := c.Param("queue")
	if _, ok := h.queue.Policy(queueName); !ok {
		httputil.HandleErrorGin(c, apperrors.Wrapf(queueDomain.ErrUnknownQueue, "queue %q", queueName), h.logger)
		return
	}

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	jobs, err := h.queue.ListDeadLetters(c.Request.Context(), queueName, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapJobsToListResponse(jobs))
}

// GetJobHandler returns one job.
// GET /v1/jobs/:id
func (h *QueueHandler) GetJobHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	job, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapJobToResponse(job))
}

// RetryHandler re-queues a dead-lettered job.
// POST /v1/jobs/:id/retry
func (h *QueueHandler) RetryHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	job, err := h.queue.RetryDeadLetter(ctx, id, operator.ActorFromContext(ctx))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapJobToResponse(job))
}

// DiscardHandler discards a dead-lettered job.
// POST /v1/jobs/:id/discard
func (h *QueueHandler) DiscardHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	job, err := h.queue.DiscardDeadLetter(ctx, id, operator.ActorFromContext(ctx))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapJobToResponse(job))
}

func (h *QueueHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleBadRequestGin(c, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid job id"), h.logger)
		return uuid.Nil, false
	}
	return id, true
}
