package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/pkg/cache"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/queue"

	"github.com/google/uuid"
)

const (
	historyLookback   = 30 * 24 * time.Hour
	volatilityWindow  = 7 * 24 * time.Hour
	summaryTitleLimit = 3
)

// CheckResult describes one check cycle.
type CheckResult struct {
	MonitorID string           `json:"monitor_id"`
	Skipped   bool             `json:"skipped"`
	Changes   int              `json:"changes"`
	Anomalies int              `json:"anomalies"`
	Alert     *models.Alert    `json:"alert,omitempty"`
	Decision  *models.Decision `json:"decision,omitempty"`
}

// CheckService runs the check cycle of a monitor: analyze, snapshot, diff,
// score and persist.
type CheckService struct {
	monitors  domrepo.MonitorRepository
	alerts    domrepo.AlertRepository
	snapshots domrepo.SnapshotStore
	engine    domsvc.AnalysisEngine
	changes   *analytics.ChangeDetector
	detectors *analytics.DetectorRegistry
	scorer    *analytics.AlertScorer
	rca       *analytics.RootCauseAnalyzer
	queue     queue.Queue
	locks     cache.Service
	feed      domsvc.AlertFeed
	metrics   domrepo.Metrics
	log       *logger.Logger

	historyDays int
	lockTTL     time.Duration
	now         func() time.Time
}

func NewCheckService(
	monitors domrepo.MonitorRepository,
	alerts domrepo.AlertRepository,
	snapshots domrepo.SnapshotStore,
	engine domsvc.AnalysisEngine,
	changes *analytics.ChangeDetector,
	detectors *analytics.DetectorRegistry,
	scorer *analytics.AlertScorer,
	rca *analytics.RootCauseAnalyzer,
	q queue.Queue,
	locks cache.Service,
	feed domsvc.AlertFeed,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
	historyDays int,
	lockTTL time.Duration,
) *CheckService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if historyDays <= 0 {
		historyDays = 90
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &CheckService{
		monitors:    monitors,
		alerts:      alerts,
		snapshots:   snapshots,
		engine:      engine,
		changes:     changes,
		detectors:   detectors,
		scorer:      scorer,
		rca:         rca,
		queue:       q,
		locks:       locks,
		feed:        feed,
		metrics:     metrics,
		log:         lgr.With(logger.String("component", "check_service")),
		historyDays: historyDays,
		lockTTL:     lockTTL,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *CheckService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CheckForUpdates runs one check cycle. Monitors that are not active are
// skipped, as are monitors whose check is already running elsewhere. A failed
// cycle is recorded on the monitor and the error is returned for retry.
func (s *CheckService) CheckForUpdates(ctx context.Context, monitorID string) (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{MonitorID: monitorID}

	if s.locks != nil {
		key := "lock:check:" + monitorID
		ok, err := s.locks.TryLock(ctx, key, s.lockTTL)
		switch {
		case err != nil:
			s.log.Warn("check lock unavailable, continuing", logger.String("monitor_id", monitorID), logger.Error(err))
		case !ok:
			s.log.Debug("check already running", logger.String("monitor_id", monitorID))
			res.Skipped = true
			return res, nil
		default:
			defer func() {
				if err := s.locks.Unlock(context.WithoutCancel(ctx), key); err != nil {
					s.log.Warn("check unlock failed", logger.String("monitor_id", monitorID), logger.Error(err))
				}
			}()
		}
	}

	m, err := s.monitors.Get(ctx, monitorID)
	if err != nil {
		return nil, fmt.Errorf("load monitor %s: %w", monitorID, err)
	}
	if m.Status != models.StatusActive {
		res.Skipped = true
		s.record("skipped")
		return res, nil
	}

	runErr := s.run(ctx, m, res)
	now := s.now().UTC()
	if runErr != nil {
		if m.RecordFailure(now, runErr) {
			s.log.Error("monitor moved to error after repeated failures",
				logger.String("monitor_id", m.ID),
				logger.Int("error_count", m.ErrorCount),
				logger.Error(runErr),
			)
		}
		if err := s.monitors.RecordCheck(context.WithoutCancel(ctx), m); err != nil {
			s.log.Warn("failed to record check failure", logger.String("monitor_id", m.ID), logger.Error(err))
		}
		s.record("failure")
		if s.metrics != nil {
			s.metrics.RecordError("check")
		}
		return nil, fmt.Errorf("check monitor %s: %w", m.ID, runErr)
	}

	persisted := 0
	if res.Alert != nil {
		persisted = 1
	}
	m.RecordSuccess(now, persisted)
	if err := s.monitors.RecordCheck(ctx, m); err != nil {
		return nil, fmt.Errorf("update monitor %s: %w", m.ID, err)
	}
	s.record("success")
	if s.metrics != nil {
		s.metrics.RecordLatency("check", time.Since(start).Seconds())
	}
	return res, nil
}

// Baseline captures the first snapshot of a new monitor.
func (s *CheckService) Baseline(ctx context.Context, m *models.Monitor) error {
	ar, err := s.engine.Analyze(ctx, analysisRequest(m))
	if err != nil {
		return fmt.Errorf("baseline analysis: %w", err)
	}
	snap := newSnapshot(m.ID, ar, s.now().UTC())
	if err := s.snapshots.Put(ctx, snap); err != nil {
		return fmt.Errorf("baseline snapshot: %w", err)
	}
	return nil
}

// run analyzes m and diffs the result against the latest snapshot. The new
// snapshot is stored last, after the alert and its dedup record, so a failed
// step leaves the previous snapshot in place and a retry sees the same diff.
func (s *CheckService) run(ctx context.Context, m *models.Monitor, res *CheckResult) error {
	prev, err := s.snapshots.GetLatest(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	ar, err := s.engine.Analyze(ctx, analysisRequest(m))
	if err != nil {
		return err
	}
	now := s.now().UTC()
	snap := newSnapshot(m.ID, ar, now)

	kept := make([]models.Change, 0)
	for _, c := range s.changes.Detect(prev, *snap) {
		if c.Confidence >= m.Config.ConfidenceThreshold {
			kept = append(kept, c)
		}
	}
	res.Changes = len(kept)

	anomalies := s.detectAnomalies(ctx, m, snap)
	res.Anomalies = len(anomalies)
	for _, a := range anomalies {
		if s.metrics != nil {
			s.metrics.RecordAnomaly(string(a.Type))
		}
	}

	if len(kept) > 0 {
		if err := s.raise(ctx, m, kept, anomalies, now, res); err != nil {
			return err
		}
	}

	if err := s.snapshots.Put(ctx, snap); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// raise builds, scores and stores the alert for kept. The scorer records a
// sent decision only once the alert is stored.
func (s *CheckService) raise(ctx context.Context, m *models.Monitor, kept []models.Change, anomalies []models.AnomalyScore, now time.Time, res *CheckResult) error {
	alert := buildAlert(m, kept, anomalies, now)
	hist, err := s.alerts.History(ctx, m.ID, alert.Fingerprint, now.Add(-historyLookback))
	if err != nil {
		s.log.Warn("alert history unavailable", logger.String("monitor_id", m.ID), logger.Error(err))
		hist = nil
	}
	p := s.scorer.Score(ctx, alert, anomalies, m.Config, m.Config.PreferredCategories)
	alert.Priority = &p
	exp := s.rca.Analyze(alert, hist)
	alert.Explanation = &exp

	d := s.scorer.ShouldSend(ctx, alert, p)
	res.Decision = &d
	if d.Reason == models.DecisionDuplicate {
		s.log.Debug("duplicate alert suppressed",
			logger.String("monitor_id", m.ID),
			logger.String("fingerprint", alert.Fingerprint),
		)
		return nil
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	s.scorer.Record(ctx, alert, p, d)
	res.Alert = alert
	if s.feed != nil {
		s.feed.Publish(m.OwnerID, alert)
	}

	s.log.Info("alert created",
		logger.String("monitor_id", m.ID),
		logger.String("alert_id", alert.ID),
		logger.String("urgency", string(p.Urgency)),
		logger.Float64("score", p.Score),
		logger.String("decision", d.Reason),
	)

	if d.Send {
		payload := DeliverPayload{AlertID: alert.ID, MonitorID: m.ID}
		if err := s.queue.Enqueue(ctx, TaskAlertDeliver, payload, queue.WithLane(queue.LaneHigh)); err != nil {
			s.log.Warn("failed to enqueue alert delivery", logger.String("alert_id", alert.ID), logger.Error(err))
		}
	}
	return nil
}

// detectAnomalies scores the tracked metrics of snap. The monitor's detector
// is fitted from history on first use. A trend reversal in the fitted model is
// reported alongside the point and volatility scores.
func (s *CheckService) detectAnomalies(ctx context.Context, m *models.Monitor, snap *models.Snapshot) []models.AnomalyScore {
	out := make([]models.AnomalyScore, 0)
	if len(snap.Metrics) == 0 {
		return out
	}

	since := snap.Timestamp.Add(-time.Duration(s.historyDays) * 24 * time.Hour)
	hist, err := s.snapshots.GetRange(ctx, m.ID, since, snap.Timestamp, 0)
	if err != nil {
		s.log.Warn("history unavailable, skipping anomaly detection", logger.String("monitor_id", m.ID), logger.Error(err))
		return out
	}

	det := s.detectors.Get(m.ID)
	if len(det.Metrics()) == 0 {
		fitDetector(det, m, hist)
	}

	names := make([]string, 0, len(snap.Metrics))
	for name := range snap.Metrics {
		if m.Config.Tracks(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		v := snap.Metrics[name]
		if a := det.DetectWithContext(name, v, snap.Timestamp, m.Config.KnownEvents); a != nil {
			out = append(out, *a)
		}
		recent, older := splitSeries(hist, name, snap.Timestamp.Add(-volatilityWindow))
		recent = append(recent, v)
		if a := det.DetectVolatilitySpike(name, recent, older); a != nil {
			out = append(out, *a)
		}
		if ta := det.AnalyzeTrend(name, trendWindowDays); ta != nil && ta.Reversal && ta.Score != nil {
			out = append(out, *ta.Score)
		}
	}
	return out
}

// fitDetector trains det on every tracked metric found in hist and returns
// the number of fitted metrics.
func fitDetector(det *analytics.AnomalyDetector, m *models.Monitor, hist []models.Snapshot) int {
	names := make([]string, 0)
	for name := range models.MetricNames(hist) {
		if m.Config.Tracks(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fitted := 0
	for _, name := range names {
		if det.Fit(name, models.MetricSeries(hist, name)) {
			fitted++
		}
	}
	return fitted
}

func splitSeries(hist []models.Snapshot, metric string, cut time.Time) (recent, older []float64) {
	for _, p := range models.MetricSeries(hist, metric) {
		if p.Time.Before(cut) {
			older = append(older, p.Value)
		} else {
			recent = append(recent, p.Value)
		}
	}
	return recent, older
}

func (s *CheckService) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordCheck(result)
	}
}

func analysisRequest(m *models.Monitor) models.AnalysisRequest {
	return models.AnalysisRequest{
		Subject:    m.Subject,
		Category:   m.Category,
		Frameworks: m.Config.Frameworks,
		Depth:      m.Config.Depth,
	}
}

func newSnapshot(monitorID string, ar *models.AnalysisResult, ts time.Time) *models.Snapshot {
	snap := &models.Snapshot{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Timestamp: ts,
	}
	if ar == nil {
		return snap
	}
	if len(ar.FinancialMetrics) > 0 {
		snap.Metrics = make(map[string]float64, len(ar.FinancialMetrics))
		for k, v := range ar.FinancialMetrics {
			snap.Metrics[k] = v
		}
	}
	snap.MarketTrends = append([]string(nil), ar.MarketTrends...)
	if len(ar.CompetitiveForces) > 0 {
		snap.CompetitiveForces = make(map[string]string, len(ar.CompetitiveForces))
		for k, v := range ar.CompetitiveForces {
			snap.CompetitiveForces[k] = v
		}
	}
	if len(ar.StrategicPosition) > 0 {
		snap.StrategicPosition = make(map[string]any, len(ar.StrategicPosition))
		for k, v := range ar.StrategicPosition {
			snap.StrategicPosition[k] = v
		}
	}
	if ar.Sentiment != nil && models.IsFinite(*ar.Sentiment) {
		v := *ar.Sentiment
		snap.Sentiment = &v
	}
	return snap
}

func buildAlert(m *models.Monitor, changes []models.Change, anomalies []models.AnomalyScore, now time.Time) *models.Alert {
	var sum float64
	titles := make([]string, 0, len(changes))
	for _, c := range changes {
		sum += c.Confidence
		titles = append(titles, c.Title)
	}

	title := fmt.Sprintf("%s: %d changes detected", m.Subject, len(changes))
	if len(changes) == 1 {
		title = fmt.Sprintf("%s: %s", m.Subject, changes[0].Title)
	}
	summary := strings.Join(titles, "; ")
	if len(titles) > summaryTitleLimit {
		summary = fmt.Sprintf("%s and %d more", strings.Join(titles[:summaryTitleLimit], "; "), len(titles)-summaryTitleLimit)
	}

	return &models.Alert{
		ID:          uuid.NewString(),
		MonitorID:   m.ID,
		Title:       title,
		Summary:     summary,
		Confidence:  sum / float64(len(changes)),
		Changes:     changes,
		Anomalies:   anomalies,
		CreatedAt:   now,
		Fingerprint: models.Fingerprint(changes),
	}
}

// isDomainError reports whether err is a validation failure that retrying
// cannot fix.
func isDomainError(err error) bool {
	return errors.Is(err, domrepo.ErrNotFound) ||
		errors.Is(err, domrepo.ErrDuplicateActive) ||
		errors.Is(err, domrepo.ErrInvalidTransition) ||
		errors.Is(err, domrepo.ErrInvalidConfig)
}
