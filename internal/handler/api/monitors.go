package api

import (
	"context"
	"net/http"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/usecase"
	xhttp "IntelWatch/pkg/http"
	xlogger "IntelWatch/pkg/logger"
	"IntelWatch/pkg/util"

	"github.com/labstack/echo/v4"
)

// MonitorsHandler serves the monitor, alert and dashboard endpoints.
type MonitorsHandler struct {
	logger   *xlogger.Logger
	monitors *usecase.MonitorService
	maint    *usecase.MaintenanceService
}

func NewMonitorsHandler(logger *xlogger.Logger, monitors *usecase.MonitorService, maint *usecase.MaintenanceService) *MonitorsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &MonitorsHandler{logger: logger, monitors: monitors, maint: maint}
}

func (h *MonitorsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.POST("/monitors", h.Create)
	g.GET("/monitors", h.List)
	g.GET("/monitors/:id", h.Get)
	g.PUT("/monitors/:id", h.Update)
	g.DELETE("/monitors/:id", h.Delete)
	g.POST("/monitors/:id/pause", h.Pause)
	g.POST("/monitors/:id/resume", h.Resume)
	g.POST("/monitors/:id/reactivate", h.Reactivate)
	g.POST("/monitors/:id/check", h.ForceCheck)
	g.GET("/monitors/:id/alerts", h.Alerts)
	g.GET("/monitors/:id/snapshots", h.Snapshots)
	g.GET("/monitors/:id/aggregations", h.Aggregation)
	g.POST("/monitors/:id/aggregations/backfill", h.Backfill)

	g.POST("/alerts/:id/read", h.MarkRead)
	g.POST("/alerts/:id/feedback", h.Feedback)
	g.GET("/dashboard", h.Dashboard)
}

func (h *MonitorsHandler) fail(c echo.Context, op string, err error) error {
	mapped := appError(err)
	if mapped == err {
		h.logger.Error(op+" failed", xlogger.Error(err), xlogger.String("path", c.Path()))
	}
	return xhttp.AppErrorResponse(c, mapped)
}

func (h *MonitorsHandler) Create(c echo.Context) error {
	req := &models.CreateMonitorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := h.monitors.Create(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "create monitor", err)
	}
	return xhttp.CreatedResponse(c, m)
}

func (h *MonitorsHandler) List(c echo.Context) error {
	req := &models.ListMonitorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.monitors.List(c.Request().Context(), req.OwnerID, req.Status)
	if err != nil {
		return h.fail(c, "list monitors", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *MonitorsHandler) Get(c echo.Context) error {
	m, err := h.monitors.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "get monitor", err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *MonitorsHandler) Update(c echo.Context) error {
	req := &models.UpdateMonitorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := h.monitors.Update(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "update monitor", err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *MonitorsHandler) Delete(c echo.Context) error {
	if _, err := h.monitors.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, "delete monitor", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MonitorsHandler) Pause(c echo.Context) error {
	return h.transition(c, "pause monitor", h.monitors.Pause)
}

func (h *MonitorsHandler) Resume(c echo.Context) error {
	return h.transition(c, "resume monitor", h.monitors.Resume)
}

func (h *MonitorsHandler) Reactivate(c echo.Context) error {
	return h.transition(c, "reactivate monitor", h.monitors.Reactivate)
}

func (h *MonitorsHandler) transition(c echo.Context, op string, fn func(ctx context.Context, id string) (*models.Monitor, error)) error {
	m, err := fn(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, op, err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *MonitorsHandler) ForceCheck(c echo.Context) error {
	if err := h.monitors.ForceCheck(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, "force check", err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *MonitorsHandler) Alerts(c echo.Context) error {
	req := &models.ListAlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.monitors.ListAlerts(c.Request().Context(), req.ID, req.Unread, req.Limit)
	if err != nil {
		return h.fail(c, "list alerts", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *MonitorsHandler) Snapshots(c echo.Context) error {
	req := &models.SnapshotRangeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var from, to time.Time
	if req.From != "" {
		t, ok := util.ParseTime(req.From)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
		}
		from = t
	}
	if req.To != "" {
		t, ok := util.ParseTime(req.To)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
		}
		to = t
	}
	rows, err := h.monitors.Snapshots(c.Request().Context(), req.ID, from, to, req.Limit)
	if err != nil {
		return h.fail(c, "list snapshots", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *MonitorsHandler) Aggregation(c echo.Context) error {
	req := &models.AggregationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, ok := util.ParseTime(req.Start)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid start %q", req.Start))
	}
	agg, err := h.monitors.Aggregation(c.Request().Context(), req.ID, models.Period(req.Period), start)
	if err != nil {
		return h.fail(c, "get aggregation", err)
	}
	if agg == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no data for period"))
	}
	return xhttp.SuccessResponse(c, agg)
}

func (h *MonitorsHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, ok := util.ParseTime(req.Start)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid start %q", req.Start))
	}
	end, ok := util.ParseTime(req.End)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid end %q", req.End))
	}
	counts, err := h.maint.Backfill(c.Request().Context(), req.ID, start, end, req.Periods)
	if err != nil {
		return h.fail(c, "backfill", err)
	}
	return xhttp.SuccessResponse(c, counts)
}

func (h *MonitorsHandler) MarkRead(c echo.Context) error {
	if err := h.monitors.MarkAlertRead(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, "mark alert read", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MonitorsHandler) Feedback(c echo.Context) error {
	req := &models.FeedbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.monitors.AlertFeedback(c.Request().Context(), req.ID, req.Feedback); err != nil {
		return h.fail(c, "alert feedback", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *MonitorsHandler) Dashboard(c echo.Context) error {
	req := &models.DashboardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	stats, err := h.monitors.DashboardStats(c.Request().Context(), req.OwnerID)
	if err != nil {
		return h.fail(c, "dashboard stats", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, stats)
}
