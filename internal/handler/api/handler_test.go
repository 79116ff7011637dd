package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/repository"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/internal/usecase"
	"IntelWatch/pkg/cache"
	xhttp "IntelWatch/pkg/http"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/metrics"
	"IntelWatch/pkg/queue"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEngine struct{}

func (staticEngine) Analyze(context.Context, models.AnalysisRequest) (*models.AnalysisResult, error) {
	return &models.AnalysisResult{FinancialMetrics: models.FinancialMetrics{"revenue": 100}}, nil
}

func newTestEcho(t *testing.T) (*echo.Echo, *usecase.MonitorService) {
	t.Helper()

	monitors := repository.NewMemoryMonitorRepository()
	alerts := repository.NewMemoryAlertRepository()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	store, err := repository.NewSnapshotStore(repository.NewMemorySnapshotBackend(), logger.Nop(), metrics.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	q := queue.NewMemoryQueue(logger.Nop(), nil, metrics.Nop{})
	detectors := analytics.NewDetectorRegistry(func() *analytics.AnomalyDetector {
		return analytics.NewAnomalyDetector(nil)
	})
	aggregator := analytics.NewAggregator(store, repository.NewMemoryAggregationRepository(), nil)
	scorer := analytics.NewAlertScorer(repository.NewCacheDedupStore(mc), metrics.Nop{}, nil)

	check := usecase.NewCheckService(monitors, alerts, store, staticEngine{}, analytics.NewChangeDetector(), detectors,
		scorer, analytics.NewRootCauseAnalyzer(nil), q, mc, nil, metrics.Nop{}, nil, 90, time.Minute)
	svc := usecase.NewMonitorService(monitors, alerts, store, aggregator, detectors, check, q, nil)
	maint := usecase.NewMaintenanceService(monitors, store, aggregator, detectors, q, metrics.Nop{}, nil, 90)

	router := NewRouter(NewMonitorsHandler(nil, svc, maint), NewMaintenanceHandler(nil, maint))
	router.AddHealthCheck("store", func(context.Context) error { return nil })

	e := echo.New()
	router.RegisterRoutes(e)
	return e, svc
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMonitor(t *testing.T, rec *httptest.ResponseRecorder) *models.Monitor {
	t.Helper()
	var resp struct {
		Data models.Monitor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp.Data
}

func TestCreateAndGetMonitor(t *testing.T) {
	e, _ := newTestEcho(t)

	rec := do(e, http.MethodPost, "/api/monitors", `{"owner_id":"o1","subject":"Acme"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeMonitor(t, rec)
	assert.Equal(t, models.StatusActive, created.Status)

	rec = do(e, http.MethodGet, "/api/monitors/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme", decodeMonitor(t, rec).Subject)

	rec = do(e, http.MethodGet, "/api/monitors?owner_id=o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data xhttp.ListDataResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Data.Total)
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	e, svc := newTestEcho(t)
	m, err := svc.Create(context.Background(), models.CreateMonitorRequest{OwnerID: "o1", Subject: "Acme"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"missing monitor", http.MethodGet, "/api/monitors/nope", "", http.StatusNotFound},
		{"duplicate active", http.MethodPost, "/api/monitors", `{"owner_id":"o1","subject":"Acme"}`, http.StatusConflict},
		{"bad transition", http.MethodPost, "/api/monitors/" + m.ID + "/resume", "", http.StatusConflict},
		{"bad config", http.MethodPost, "/api/monitors", `{"owner_id":"o1","subject":"Other","config":{"frequency":"yearly"}}`, http.StatusBadRequest},
		{"missing owner", http.MethodGet, "/api/monitors", "", http.StatusBadRequest},
		{"bad lane", http.MethodGet, "/api/maintenance/dead-letters?lane=urgent", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	e, svc := newTestEcho(t)
	m, err := svc.Create(context.Background(), models.CreateMonitorRequest{OwnerID: "o1", Subject: "Acme"})
	require.NoError(t, err)

	rec := do(e, http.MethodPost, "/api/monitors/"+m.ID+"/check", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(e, http.MethodPost, "/api/monitors/"+m.ID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusPaused, decodeMonitor(t, rec).Status)

	rec = do(e, http.MethodPost, "/api/monitors/"+m.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPut, "/api/monitors/"+m.ID, `{"subject":"Acme Corp"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Acme Corp", decodeMonitor(t, rec).Subject)

	rec = do(e, http.MethodDelete, "/api/monitors/"+m.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSnapshotsAndRetentionEndpoints(t *testing.T) {
	e, svc := newTestEcho(t)
	m, err := svc.Create(context.Background(), models.CreateMonitorRequest{OwnerID: "o1", Subject: "Acme"})
	require.NoError(t, err)

	rec := do(e, http.MethodGet, "/api/monitors/"+m.ID+"/snapshots?from=2000-01-01&to="+time.Now().Add(time.Hour).UTC().Format(time.RFC3339), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Data xhttp.ListDataResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Data.Total)

	rec = do(e, http.MethodGet, "/api/monitors/"+m.ID+"/snapshots?from=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/maintenance/retention", `{"older_than_days":30,"dry_run":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Data models.RetentionReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Data.DryRun)
	assert.Equal(t, 1, report.Data.Monitors)
}

func TestDashboardAndHealth(t *testing.T) {
	e, svc := newTestEcho(t)
	_, err := svc.Create(context.Background(), models.CreateMonitorRequest{OwnerID: "o1", Subject: "Acme"})
	require.NoError(t, err)

	rec := do(e, http.MethodGet, "/api/dashboard?owner_id=o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Data models.DashboardStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Data.Monitors[models.StatusActive])

	rec = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
