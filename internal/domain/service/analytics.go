package service

import (
	"context"
	"time"

	"IntelWatch/internal/domain/models"
)

// AnalysisEngine produces the raw intelligence a snapshot is built from.
type AnalysisEngine interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Forecaster fits a model to a metric series.
type Forecaster interface {
	Fit(points []models.Point) (Model, error)
}

// Model is a fitted forecaster. Predict bounds use the interval width z
// (in sigmas) chosen by the caller.
type Model interface {
	Predict(ts time.Time, z float64) models.Forecast
	TrendComponent() []models.Point
	Mean() float64
}

// AlertDispatcher hands an alert to notification delivery.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert, monitor *models.Monitor) error
}

// AlertFeed receives every persisted alert for live in-app display.
type AlertFeed interface {
	Publish(ownerID string, alert *models.Alert)
}
