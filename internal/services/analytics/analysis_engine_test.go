package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineConfig(url string, retries int) *config.Config {
	cfg := &config.Config{}
	cfg.Analysis.BaseURL = url
	cfg.Analysis.Timeout = 2 * time.Second
	cfg.Analysis.Retries = retries
	return cfg
}

func TestHTTPAnalysisEngineDecodesResult(t *testing.T) {
	var got models.AnalysisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"financial_metrics": {"revenue": 120.5, "margin": "0.31", "notes": "n/a", "flag": true},
			"market_trends": ["ai"],
			"competitive_forces": {"rivalry": "high"},
			"strategic_position": {"moat": "brand"},
			"sentiment": 0.2
		}`))
	}))
	defer srv.Close()

	eng := NewHTTPAnalysisEngine(engineConfig(srv.URL+"/", 0))
	res, err := eng.Analyze(context.Background(), models.AnalysisRequest{Subject: "Acme", Depth: models.DepthStandard})
	require.NoError(t, err)

	assert.Equal(t, "Acme", got.Subject)
	assert.Equal(t, models.FinancialMetrics{"revenue": 120.5, "margin": 0.31}, res.FinancialMetrics)
	assert.Equal(t, []string{"ai"}, res.MarketTrends)
	require.NotNil(t, res.Sentiment)
	assert.Equal(t, 0.2, *res.Sentiment)
}

func TestHTTPAnalysisEngineRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"financial_metrics": {"revenue": 1}}`))
	}))
	defer srv.Close()

	eng := NewHTTPAnalysisEngine(engineConfig(srv.URL, 2))
	res, err := eng.Analyze(context.Background(), models.AnalysisRequest{Subject: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.FinancialMetrics["revenue"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPAnalysisEngineRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAnalysisEngine(engineConfig("", 0)).Analyze(context.Background(), models.AnalysisRequest{Subject: "Acme"})
	assert.Error(t, err)
}
