// Package http provides the HTTP entry point for dispatching resilient actions.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	"github.com/fieldops/resilience/internal/fallback/http/dto"
	fallbackUseCase "github.com/fieldops/resilience/internal/fallback/usecase"
	"github.com/fieldops/resilience/internal/httputil"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// IdempotencyKeyHeader carries the idempotency key when the body does not.
const IdempotencyKeyHeader = "Idempotency-Key"

// ActionHandler handles HTTP requests for action dispatch.
type ActionHandler struct {
	router fallbackUseCase.Router
	logger *slog.Logger
}

// NewActionHandler creates a new action handler.
func NewActionHandler(router fallbackUseCase.Router, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{router: router, logger: logger}
}

// PerformHandler dispatches an action with the registered default fallback.
// Completed actions answer 200; deferred ones answer 202.
// POST /v1/actions
func (h *ActionHandler) PerformHandler(c *gin.Context) {
	var req dto.PerformActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(IdempotencyKeyHeader)
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	outcome, err := h.router.Perform(c.Request.Context(), req.ToAction(), nil)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	status := http.StatusAccepted
	if outcome.Status == fallbackDomain.OutcomeCompleted {
		status = http.StatusOK
	}
	c.Header(IdempotencyKeyHeader, outcome.IdempotencyKey)
	c.JSON(status, dto.MapOutcomeToResponse(outcome))
}
