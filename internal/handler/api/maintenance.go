package api

import (
	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/usecase"
	xhttp "IntelWatch/pkg/http"
	xlogger "IntelWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

type MaintenanceHandler struct {
	logger *xlogger.Logger
	maint  *usecase.MaintenanceService
}

func NewMaintenanceHandler(logger *xlogger.Logger, maint *usecase.MaintenanceService) *MaintenanceHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &MaintenanceHandler{logger: logger, maint: maint}
}

func (h *MaintenanceHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/maintenance")
	g.POST("/retention", h.Retention)
	g.GET("/dead-letters", h.DeadLetters)
}

// Retention runs synchronously so dry runs can report what would be removed.
func (h *MaintenanceHandler) Retention(c echo.Context) error {
	req := &models.RetentionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.maint.Retention(c.Request().Context(), req.OlderThanDays, req.DryRun)
	if err != nil {
		h.logger.Error("retention failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *MaintenanceHandler) DeadLetters(c echo.Context) error {
	req := &models.DeadLettersRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	msgs, err := h.maint.DeadLetters(c.Request().Context(), req.Lane, req.Limit)
	if err != nil {
		h.logger.Error("dead letter listing failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.ListResponse(c, msgs, int64(len(msgs)))
}
