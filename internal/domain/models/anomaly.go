package models

import "time"

type AnomalyType string

const (
	AnomalyPoint           AnomalyType = "point"
	AnomalyContextual      AnomalyType = "contextual"
	AnomalyTrendReversal   AnomalyType = "trend-reversal"
	AnomalyVolatilitySpike AnomalyType = "volatility-spike"
)

type AnomalyScore struct {
	Metric      string      `json:"metric"`
	Type        AnomalyType `json:"type"`
	Severity    float64     `json:"severity"`   // 0..10
	Confidence  float64     `json:"confidence"` // 0..1
	Explanation string      `json:"explanation"`
	Forecast    float64     `json:"forecast"`
	Actual      float64     `json:"actual"`
	Lower       float64     `json:"lower"`
	Upper       float64     `json:"upper"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Forecast is a model prediction with its interval at the detector's width.
type Forecast struct {
	Value float64
	Lower float64
	Upper float64
	Sigma float64
}

type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

type TrendAnalysis struct {
	Metric            string         `json:"metric"`
	RecentSlope       float64        `json:"recent_slope"`
	PreviousSlope     float64        `json:"previous_slope"`
	RecentDirection   TrendDirection `json:"recent_direction"`
	PreviousDirection TrendDirection `json:"previous_direction"`
	Reversal          bool           `json:"reversal"`
	Confidence        float64        `json:"confidence"`
	Score             *AnomalyScore  `json:"score,omitempty"`
}
