package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a monitor status change is not allowed.
var ErrInvalidTransition = errors.New("invalid monitor status transition")

// MaxConsecutiveErrors is the failure count at which a monitor moves to error.
const MaxConsecutiveErrors = 5

type MonitorStatus string

const (
	StatusActive  MonitorStatus = "active"
	StatusPaused  MonitorStatus = "paused"
	StatusError   MonitorStatus = "error"
	StatusDeleted MonitorStatus = "deleted"
)

// AllStatuses lists every monitor status, in display order.
var AllStatuses = []MonitorStatus{StatusActive, StatusPaused, StatusError, StatusDeleted}

var transitions = map[MonitorStatus][]MonitorStatus{
	StatusActive: {StatusPaused, StatusDeleted, StatusError},
	StatusPaused: {StatusActive, StatusDeleted},
	StatusError:  {StatusActive, StatusDeleted},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to MonitorStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Next returns the next check time after t. Monthly adds one calendar month.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyHourly:
		return t.Add(time.Hour)
	case FrequencyWeekly:
		return t.Add(7 * 24 * time.Hour)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.Add(24 * time.Hour)
	}
}

type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelChat    Channel = "chat"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in-app"
)

// KnownEvent marks a day with expected extra variance (earnings, product launch).
// Factor scales anomaly severity on that UTC day; 0 means the kind default.
type KnownEvent struct {
	Date   time.Time `json:"date"`
	Kind   string    `json:"kind"`
	Factor float64   `json:"factor,omitempty"`
}

const KnownEventEarnings = "earnings"

// EffectiveFactor returns Factor, falling back to 0.5 for earnings and 1 otherwise.
func (e KnownEvent) EffectiveFactor() float64 {
	if e.Factor > 0 {
		return e.Factor
	}
	if e.Kind == KnownEventEarnings {
		return 0.5
	}
	return 1
}

type MonitorConfig struct {
	Frequency           Frequency        `json:"frequency" default:"daily" validate:"oneof=hourly daily weekly monthly"`
	ConfidenceThreshold float64          `json:"confidence_threshold" default:"0.7" validate:"gte=0,lte=1"`
	TrackedMetrics      []string         `json:"tracked_metrics,omitempty"`
	Frameworks          []string         `json:"frameworks,omitempty"`
	Depth               Depth            `json:"depth" default:"standard" validate:"oneof=quick standard deep"`
	Channels            []Channel        `json:"channels,omitempty" validate:"dive,oneof=email chat webhook in-app"`
	PreferredCategories []ChangeCategory `json:"preferred_categories,omitempty" validate:"dive,oneof=competitive-landscape market-trend financial-metric strategic-shift regulatory technology leadership"`
	KnownEvents         []KnownEvent     `json:"known_events,omitempty"`
}

// Tracks reports whether metric should be scored for anomalies.
// An empty TrackedMetrics list tracks everything.
func (c MonitorConfig) Tracks(metric string) bool {
	if len(c.TrackedMetrics) == 0 {
		return true
	}
	for _, m := range c.TrackedMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

type Monitor struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Subject       string        `json:"subject"`
	Category      string        `json:"category,omitempty"`
	Config        MonitorConfig `json:"config"`
	Status        MonitorStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
	NextCheckAt   time.Time     `json:"next_check_at"`
	TotalAlerts   int           `json:"total_alerts"`
	ErrorCount    int           `json:"error_count"`
	LastError     string        `json:"last_error,omitempty"`
}

// TransitionTo moves the monitor to status, enforcing the lifecycle:
// active -> paused|deleted|error, paused -> active|deleted, error -> active|deleted,
// deleted is terminal.
func (m *Monitor) TransitionTo(status MonitorStatus, now time.Time) error {
	if !CanTransition(m.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, status)
	}
	m.Status = status
	m.UpdatedAt = now
	return nil
}

// RecordSuccess applies the bookkeeping of a completed check cycle.
func (m *Monitor) RecordSuccess(now time.Time, alerts int) {
	m.LastCheckedAt = &now
	m.NextCheckAt = m.Config.Frequency.Next(now)
	m.TotalAlerts += alerts
	m.ErrorCount = 0
	m.LastError = ""
	m.UpdatedAt = now
}

// RecordFailure counts a failed check cycle and reports whether the monitor
// just crossed MaxConsecutiveErrors and moved to error.
func (m *Monitor) RecordFailure(now time.Time, err error) bool {
	m.ErrorCount++
	if err != nil {
		m.LastError = err.Error()
	}
	m.NextCheckAt = m.Config.Frequency.Next(now)
	m.UpdatedAt = now
	if m.ErrorCount >= MaxConsecutiveErrors && m.Status == StatusActive {
		m.Status = StatusError
		return true
	}
	return false
}
