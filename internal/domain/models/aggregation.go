package models

import (
	"fmt"
	"time"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

var AllPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Window returns the half-open UTC window [start, end) of period containing t.
// Weeks start on Monday 00:00 and months on the 1st.
func (p Period) Window(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// Windows returns the starts of every window of p whose start lies in [from, to).
func (p Period) Windows(from, to time.Time) []time.Time {
	var out []time.Time
	start, end := p.Window(from)
	if start.Before(from.UTC()) {
		start = end
	}
	for start.Before(to) {
		out = append(out, start)
		_, start = p.Window(start)
	}
	return out
}

type MetricStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Count  int     `json:"count"`
}

type SignificantChange struct {
	Metric    string    `json:"metric"`
	From      float64   `json:"from"`
	To        float64   `json:"to"`
	PctChange float64   `json:"pct_change"`
	At        time.Time `json:"at"`
}

type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Aggregation struct {
	MonitorID          string                    `json:"monitor_id"`
	Period             Period                    `json:"period"`
	Start              time.Time                 `json:"start"`
	End                time.Time                 `json:"end"`
	SnapshotCount      int                       `json:"snapshot_count"`
	Metrics            map[string]MetricStats    `json:"metrics"`
	Trends             map[string]TrendDirection `json:"trends"`
	MovingAverages     map[string][]float64      `json:"moving_averages"`
	SignificantChanges []SignificantChange       `json:"significant_changes"`
	TopTrends          []ValueCount              `json:"top_trends"`
	AvgSentiment       *float64                  `json:"avg_sentiment,omitempty"`
	GeneratedAt        time.Time                 `json:"generated_at"`
}
