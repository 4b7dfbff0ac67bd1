// Package http provides HTTP handlers for inspecting service health and managing
// operator overrides.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	healthDomain "github.com/fieldops/resilience/internal/health/domain"
	"github.com/fieldops/resilience/internal/health/http/dto"
	healthUseCase "github.com/fieldops/resilience/internal/health/usecase"
	"github.com/fieldops/resilience/internal/httputil"
	"github.com/fieldops/resilience/internal/operator"
	customValidation "github.com/fieldops/resilience/internal/validation"
)

// HealthHandler handles HTTP requests for service health.
type HealthHandler struct {
	monitor healthUseCase.Monitor
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(monitor healthUseCase.Monitor, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{monitor: monitor, logger: logger}
}

// ListHandler returns the health of every monitored service.
// GET /v1/health/services
func (h *HealthHandler) ListHandler(c *gin.Context) {
	c.JSON(http.StatusOK, dto.MapServiceHealthListToResponse(h.monitor.List()))
}

// GetHandler returns the health of one service.
// GET /v1/health/services/:service
func (h *HealthHandler) GetHandler(c *gin.Context) {
	health, err := h.monitor.Health(c.Param("service"))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapServiceHealthToResponse(health))
}

// SetOverrideHandler pins the effective state of a service.
// PUT /v1/health/services/:service/override
func (h *HealthHandler) SetOverrideHandler(c *gin.Context) {
	var req dto.SetOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	ctx := c.Request.Context()
	health, err := h.monitor.ForceState(
		ctx,
		c.Param("service"),
		healthDomain.State(req.State),
		operator.ActorFromContext(ctx),
		req.Reason,
	)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapServiceHealthToResponse(health))
}

// ClearOverrideHandler returns a service to its automatic state.
// DELETE /v1/health/services/:service/override
func (h *HealthHandler) ClearOverrideHandler(c *gin.Context) {
	ctx := c.Request.Context()
	health, err := h.monitor.ClearOverride(ctx, c.Param("service"), operator.ActorFromContext(ctx))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, dto.MapServiceHealthToResponse(health))
}
