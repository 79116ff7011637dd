package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Priority is the scorer's verdict on an alert.
type Priority struct {
	Score         float64   `json:"score"`
	Urgency       Urgency   `json:"urgency"`
	ShouldNotify  bool      `json:"should_notify"`
	Reasoning     []string  `json:"reasoning,omitempty"`
	ThrottleUntil time.Time `json:"throttle_until"`
}

// Delivery decision reasons.
const (
	DecisionSend      = "send"
	DecisionDuplicate = "duplicate"
	DecisionDailyCap  = "daily_cap"
	DecisionInAppOnly = "in_app_only"
)

type Decision struct {
	Send   bool   `json:"send"`
	Reason string `json:"reason"`
}

type RootCause struct {
	Pattern     string  `json:"pattern"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type Factor struct {
	Group       string   `json:"group"` // internal, market, regulatory, technology
	Description string   `json:"description"`
	Changes     []string `json:"changes"`
	Weight      float64  `json:"weight"`
}

type TimeToImpact string

const (
	ImpactImmediate  TimeToImpact = "immediate"
	ImpactShortTerm  TimeToImpact = "short-term"
	ImpactMediumTerm TimeToImpact = "medium-term"
)

type Impact struct {
	Level        string       `json:"level"`
	TimeToImpact TimeToImpact `json:"time_to_impact"`
	Areas        []string     `json:"areas"`
}

type ActionPriority string

const (
	ActionUrgent ActionPriority = "urgent"
	ActionHigh   ActionPriority = "high"
	ActionMedium ActionPriority = "medium"
)

type Action struct {
	Priority ActionPriority `json:"priority"`
	Action   string         `json:"action"`
	Owner    string         `json:"owner"`
	Timeline string         `json:"timeline"`
}

type Explanation struct {
	Summary             string    `json:"summary"`
	WhatHappened        []string  `json:"what_happened"`
	WhyItMatters        string    `json:"why_it_matters"`
	RootCause           RootCause `json:"root_cause"`
	ContributingFactors []Factor  `json:"contributing_factors"`
	Severity            string    `json:"severity"` // critical, high, medium, low
	Impact              Impact    `json:"impact"`
	Mitigations         []string  `json:"mitigations"`
	RecommendedActions  []Action  `json:"recommended_actions"`
	HistoricalContext   string    `json:"historical_context"`
}

// HistoricalContext summarizes prior alerts of a monitor for root cause analysis.
type HistoricalContext struct {
	RecentAlerts  int        `json:"recent_alerts"`
	SimilarAlerts int        `json:"similar_alerts"`
	LastAlertAt   *time.Time `json:"last_alert_at,omitempty"`
}

type Alert struct {
	ID          string         `json:"id"`
	MonitorID   string         `json:"monitor_id"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	Confidence  float64        `json:"confidence"`
	Changes     []Change       `json:"changes"`
	Anomalies   []AnomalyScore `json:"anomalies,omitempty"`
	Priority    *Priority      `json:"priority,omitempty"`
	Explanation *Explanation   `json:"explanation,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Read        bool           `json:"read"`
	Feedback    *string        `json:"feedback,omitempty"`
	Fingerprint string         `json:"fingerprint"`
}

// Fingerprint hashes the sorted set of category|title pairs so the same
// change-set maps to the same value regardless of order.
func Fingerprint(changes []Change) string {
	pairs := make([]string, 0, len(changes))
	for _, c := range changes {
		pairs = append(pairs, string(c.Category)+"|"+c.Title)
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:])
}

// AlertFilter narrows alert listings. Zero values mean no constraint.
type AlertFilter struct {
	MonitorID  string
	UnreadOnly bool
	Since      time.Time
	Limit      int
}

type DashboardStats struct {
	Monitors         map[MonitorStatus]int `json:"monitors"`
	TotalAlerts      int                   `json:"total_alerts"`
	UnreadAlerts     int                   `json:"unread_alerts"`
	AlertsLast24h    int                   `json:"alerts_last_24h"`
	AvgConfidence24h float64               `json:"avg_confidence_24h"`
}
