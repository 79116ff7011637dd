package models

import (
	"math"
	"time"
)

// Snapshot is an immutable point-in-time capture of a monitored subject.
type Snapshot struct {
	ID                string             `json:"id"`
	MonitorID         string             `json:"monitor_id"`
	Timestamp         time.Time          `json:"timestamp"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	MarketTrends      []string           `json:"market_trends,omitempty"`
	CompetitiveForces map[string]string  `json:"competitive_forces,omitempty"`
	StrategicPosition map[string]any     `json:"strategic_position,omitempty"`
	Sentiment         *float64           `json:"sentiment,omitempty"`
}

// Point is one observation of a numeric series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MetricSeries extracts the finite values of metric from snapshots, keeping their order.
func MetricSeries(snapshots []Snapshot, metric string) []Point {
	out := make([]Point, 0, len(snapshots))
	for _, s := range snapshots {
		v, ok := s.Metrics[metric]
		if !ok || !IsFinite(v) {
			continue
		}
		out = append(out, Point{Time: s.Timestamp, Value: v})
	}
	return out
}

// MetricNames returns the union of metric names across snapshots.
func MetricNames(snapshots []Snapshot) map[string]struct{} {
	names := make(map[string]struct{})
	for _, s := range snapshots {
		for k := range s.Metrics {
			names[k] = struct{}{}
		}
	}
	return names
}
