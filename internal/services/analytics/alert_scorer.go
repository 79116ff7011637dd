package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/logger"
)

const (
	defaultDailyCap = 5

	severityWeight  = 0.4
	confidenceScale = 4.0
	criticalBonus   = 2.0
	volumeCap       = 1.5
	preferenceBonus = 1.0
)

type tier struct {
	urgency  models.Urgency
	minScore float64
	notify   bool
	throttle time.Duration
}

// tiers are checked top-down; the first whose minScore is met applies.
var tiers = []tier{
	{models.UrgencyCritical, 8, true, time.Hour},
	{models.UrgencyHigh, 6, true, 4 * time.Hour},
	{models.UrgencyMedium, 4, true, 4 * time.Hour},
	{models.UrgencyLow, 0, false, 24 * time.Hour},
}

func tierFor(u models.Urgency) tier {
	for _, t := range tiers {
		if t.urgency == u {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

type ScorerOption func(*AlertScorer)

func WithDailyCap(n int) ScorerOption {
	return func(s *AlertScorer) {
		if n > 0 {
			s.dailyCap = n
		}
	}
}

func WithScorerClock(now func() time.Time) ScorerOption {
	return func(s *AlertScorer) {
		if now != nil {
			s.now = now
		}
	}
}

// AlertScorer ranks alerts and decides which of them reach the notification
// transport. The dedup store is best-effort: when it fails the scorer logs and
// lets the alert through.
type AlertScorer struct {
	dedup    repository.DedupStore
	metrics  repository.Metrics
	log      *logger.Logger
	dailyCap int
	now      func() time.Time
}

func NewAlertScorer(dedup repository.DedupStore, metrics repository.Metrics, lgr *logger.Logger, opts ...ScorerOption) *AlertScorer {
	if lgr == nil {
		lgr = logger.Nop()
	}
	s := &AlertScorer{
		dedup:    dedup,
		metrics:  metrics,
		log:      lgr.With(logger.String("component", "alert_scorer")),
		dailyCap: defaultDailyCap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the 0..10 priority of alert and its urgency tier.
func (s *AlertScorer) Score(ctx context.Context, alert *models.Alert, anomalies []models.AnomalyScore, cfg models.MonitorConfig, prefs []models.ChangeCategory) models.Priority {
	var score float64
	var reasons []string

	if len(anomalies) > 0 {
		var sum float64
		for _, a := range anomalies {
			sum += a.Severity
		}
		mean := sum / float64(len(anomalies))
		score += severityWeight * mean
		reasons = append(reasons, fmt.Sprintf("%d anomalies with mean severity %.1f", len(anomalies), mean))
	} else {
		score += confidenceScale * alert.Confidence
		reasons = append(reasons, fmt.Sprintf("confidence %.2f", alert.Confidence))
	}

	cats := models.Categories(alert.Changes)
	volume := math.Min(volumeCap, 0.5*float64(len(alert.Changes)))
	diversity := math.Min(volumeCap, 0.5*float64(len(cats)))
	score += volume + diversity
	reasons = append(reasons, fmt.Sprintf("%d changes across %d categories", len(alert.Changes), len(cats)))

	for c := range cats {
		if c.IsCritical() {
			score += criticalBonus
			reasons = append(reasons, "touches a critical category")
			break
		}
	}

	if len(prefs) > 0 && len(alert.Changes) > 0 {
		preferred := make(map[models.ChangeCategory]struct{}, len(prefs))
		for _, p := range prefs {
			preferred[p] = struct{}{}
		}
		matches := 0
		for _, c := range alert.Changes {
			if _, ok := preferred[c.Category]; ok {
				matches++
			}
		}
		if matches > 0 {
			score += preferenceBonus * float64(matches) / float64(len(alert.Changes))
			reasons = append(reasons, fmt.Sprintf("%d change(s) in preferred categories", matches))
		}
	}

	if alert.Confidence < cfg.ConfidenceThreshold {
		score /= 2
		reasons = append(reasons, fmt.Sprintf("confidence below threshold %.2f, score halved", cfg.ConfidenceThreshold))
	}
	score = clamp(score, 0, 10)

	t := tiers[len(tiers)-1]
	for _, candidate := range tiers {
		if score >= candidate.minScore {
			t = candidate
			break
		}
	}

	notify := t.notify
	if t.urgency == models.UrgencyMedium && s.dedup != nil {
		active, err := s.dedup.BatchActive(ctx, alert.MonitorID)
		if err != nil {
			s.log.Warn("batch window lookup failed", logger.String("monitor_id", alert.MonitorID), logger.Error(err))
		} else if active {
			notify = false
			reasons = append(reasons, "medium alert already notified in this batch window")
		}
	}

	return models.Priority{
		Score:         score,
		Urgency:       t.urgency,
		ShouldNotify:  notify,
		Reasoning:     reasons,
		ThrottleUntil: s.now().UTC().Add(t.throttle),
	}
}

// ShouldSend runs the fingerprint dedup, the daily cap and the tier notify
// rule, in that order. It only reads the dedup store; Record commits a sent
// decision once the alert is persisted.
func (s *AlertScorer) ShouldSend(ctx context.Context, alert *models.Alert, p models.Priority) models.Decision {
	d := s.decide(ctx, alert, p)
	if s.metrics != nil {
		s.metrics.RecordAlert(string(p.Urgency), d.Reason)
	}
	return d
}

func (s *AlertScorer) decide(ctx context.Context, alert *models.Alert, p models.Priority) models.Decision {
	if alert.Fingerprint == "" {
		alert.Fingerprint = models.Fingerprint(alert.Changes)
	}
	t := tierFor(p.Urgency)
	l := s.log.With(logger.String("monitor_id", alert.MonitorID), logger.String("fingerprint", alert.Fingerprint))

	if s.dedup == nil {
		if !t.notify {
			return models.Decision{Send: false, Reason: models.DecisionInAppOnly}
		}
		return models.Decision{Send: true, Reason: models.DecisionSend}
	}

	seen, err := s.dedup.Seen(ctx, alert.MonitorID, alert.Fingerprint)
	if err != nil {
		l.Warn("dedup lookup failed, treating as new", logger.Error(err))
	}
	if seen {
		return models.Decision{Send: false, Reason: models.DecisionDuplicate}
	}

	count, err := s.dedup.DailyCount(ctx, alert.MonitorID, s.now().UTC())
	if err != nil {
		l.Warn("daily cap lookup failed", logger.Error(err))
	}
	if count >= s.dailyCap {
		return models.Decision{Send: false, Reason: models.DecisionDailyCap}
	}

	if !t.notify {
		return models.Decision{Send: false, Reason: models.DecisionInAppOnly}
	}
	if t.urgency == models.UrgencyMedium {
		active, err := s.dedup.BatchActive(ctx, alert.MonitorID)
		if err != nil {
			l.Warn("batch window lookup failed", logger.Error(err))
		} else if active {
			return models.Decision{Send: false, Reason: models.DecisionInAppOnly}
		}
	}
	return models.Decision{Send: true, Reason: models.DecisionSend}
}

// Record commits a Send decision: the fingerprint enters the dedup window for
// the tier throttle, the daily counter is bumped and a medium alert opens the
// batch window. Other decisions leave the store untouched.
func (s *AlertScorer) Record(ctx context.Context, alert *models.Alert, p models.Priority, d models.Decision) {
	if !d.Send || s.dedup == nil {
		return
	}
	t := tierFor(p.Urgency)
	l := s.log.With(logger.String("monitor_id", alert.MonitorID), logger.String("fingerprint", alert.Fingerprint))

	if err := s.dedup.Remember(ctx, alert.MonitorID, alert.Fingerprint, t.throttle); err != nil {
		l.Warn("dedup record failed", logger.Error(err))
	}
	if t.urgency == models.UrgencyMedium {
		if _, err := s.dedup.MarkBatch(ctx, alert.MonitorID, t.throttle); err != nil {
			l.Warn("batch window update failed", logger.Error(err))
		}
	}
	if _, err := s.dedup.IncrDaily(ctx, alert.MonitorID, s.now().UTC()); err != nil {
		l.Warn("daily counter update failed", logger.Error(err))
	}
}
