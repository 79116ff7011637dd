package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"IntelWatch/internal/domain/models"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/internal/service/ratelimit"
	"IntelWatch/pkg/config"
	xhttp "IntelWatch/pkg/http"
)

// HTTPAnalysisEngine asks the upstream analysis service for a fresh read of
// a subject. Transient failures are retried by the client. All calls draw
// from one token bucket.
type HTTPAnalysisEngine struct {
	baseURL string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
}

const upstreamKey = "analyze"

func NewHTTPAnalysisEngine(cfg *config.Config) *HTTPAnalysisEngine {
	timeout := cfg.Analysis.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalysisEngine{
		baseURL: strings.TrimRight(cfg.Analysis.BaseURL, "/"),
		client: xhttp.NewClient(
			xhttp.WithTimeout(timeout),
			xhttp.WithRetries(cfg.Analysis.Retries, 500*time.Millisecond),
		),
		limiter: ratelimit.New(cfg.Analysis.RateLimit, cfg.Analysis.Burst),
	}
}

func (e *HTTPAnalysisEngine) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	if e.baseURL == "" {
		return nil, fmt.Errorf("analysis engine: base url not configured")
	}
	if err := e.limiter.Wait(ctx, upstreamKey); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", req.Subject, err)
	}
	var res models.AnalysisResult
	err := e.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     e.baseURL + "/analyze",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    req,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", req.Subject, err)
	}
	return &res, nil
}

var _ domsvc.AnalysisEngine = (*HTTPAnalysisEngine)(nil)
