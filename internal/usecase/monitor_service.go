package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/queue"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const dashboardWindow = 24 * time.Hour

// MonitorService is the administrative surface over monitors and their alerts.
type MonitorService struct {
	monitors   domrepo.MonitorRepository
	alerts     domrepo.AlertRepository
	snapshots  domrepo.SnapshotStore
	aggregator *analytics.Aggregator
	detectors  *analytics.DetectorRegistry
	checker    *CheckService
	queue      queue.Queue
	log        *logger.Logger
	validate   *validator.Validate
	now        func() time.Time
}

func NewMonitorService(
	monitors domrepo.MonitorRepository,
	alerts domrepo.AlertRepository,
	snapshots domrepo.SnapshotStore,
	aggregator *analytics.Aggregator,
	detectors *analytics.DetectorRegistry,
	checker *CheckService,
	q queue.Queue,
	lgr *logger.Logger,
) *MonitorService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &MonitorService{
		monitors:   monitors,
		alerts:     alerts,
		snapshots:  snapshots,
		aggregator: aggregator,
		detectors:  detectors,
		checker:    checker,
		queue:      q,
		log:        lgr.With(logger.String("component", "monitor_service")),
		validate:   validator.New(),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *MonitorService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a new active monitor and captures its baseline snapshot.
// A failed baseline is recorded on the monitor but does not fail creation.
func (s *MonitorService) Create(ctx context.Context, req models.CreateMonitorRequest) (*models.Monitor, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Subject = strings.TrimSpace(req.Subject)
	if err := s.normalizeConfig(&req.Config); err != nil {
		return nil, err
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", domrepo.ErrInvalidConfig, err)
	}

	now := s.now().UTC()
	m := &models.Monitor{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Subject:     req.Subject,
		Category:    req.Category,
		Config:      req.Config,
		Status:      models.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextCheckAt: req.Config.Frequency.Next(now),
	}
	if err := s.monitors.Create(ctx, m); err != nil {
		return nil, err
	}

	l := s.log.With(logger.String("monitor_id", m.ID), logger.String("subject", m.Subject))
	if s.checker != nil {
		if err := s.checker.Baseline(ctx, m); err != nil {
			m.ErrorCount++
			m.LastError = err.Error()
			l.Warn("baseline capture failed", logger.Error(err))
		} else {
			m.LastCheckedAt = &now
		}
		if err := s.monitors.Update(ctx, m); err != nil {
			l.Warn("failed to record baseline outcome", logger.Error(err))
		}
	}

	l.Info("monitor created", logger.String("owner_id", m.OwnerID), logger.String("frequency", string(m.Config.Frequency)))
	return m, nil
}

func (s *MonitorService) Get(ctx context.Context, id string) (*models.Monitor, error) {
	return s.monitors.Get(ctx, id)
}

func (s *MonitorService) List(ctx context.Context, ownerID, status string) ([]*models.Monitor, error) {
	return s.monitors.List(ctx, ownerID, models.MonitorStatus(status))
}

// Update changes subject, category or configuration. Deleted monitors are
// immutable.
func (s *MonitorService) Update(ctx context.Context, req models.UpdateMonitorRequest) (*models.Monitor, error) {
	m, err := s.monitors.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.StatusDeleted {
		return nil, fmt.Errorf("%w: monitor %s is deleted", domrepo.ErrInvalidTransition, m.ID)
	}

	if req.Subject != nil {
		subject := strings.TrimSpace(*req.Subject)
		if subject == "" {
			return nil, fmt.Errorf("%w: subject is required", domrepo.ErrInvalidConfig)
		}
		m.Subject = subject
	}
	if req.Category != nil {
		m.Category = *req.Category
	}
	now := s.now().UTC()
	if req.Config != nil {
		cfg := *req.Config
		if err := s.normalizeConfig(&cfg); err != nil {
			return nil, err
		}
		if cfg.Frequency != m.Config.Frequency {
			from := now
			if m.LastCheckedAt != nil {
				from = *m.LastCheckedAt
			}
			m.NextCheckAt = cfg.Frequency.Next(from)
		}
		m.Config = cfg
	}
	m.UpdatedAt = now

	if err := s.monitors.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MonitorService) Pause(ctx context.Context, id string) (*models.Monitor, error) {
	return s.transition(ctx, id, models.StatusPaused, models.StatusActive)
}

// Resume reactivates a paused monitor.
func (s *MonitorService) Resume(ctx context.Context, id string) (*models.Monitor, error) {
	return s.transition(ctx, id, models.StatusActive, models.StatusPaused)
}

// Reactivate brings a monitor back from error and clears its failure count.
func (s *MonitorService) Reactivate(ctx context.Context, id string) (*models.Monitor, error) {
	return s.transition(ctx, id, models.StatusActive, models.StatusError)
}

// Delete soft-deletes the monitor. Its snapshots and alerts are kept.
func (s *MonitorService) Delete(ctx context.Context, id string) (*models.Monitor, error) {
	m, err := s.transition(ctx, id, models.StatusDeleted, "")
	if err != nil {
		return nil, err
	}
	if s.detectors != nil {
		s.detectors.Drop(id)
	}
	return m, nil
}

// transition moves monitor id to status. A non-empty from restricts the
// source status.
func (s *MonitorService) transition(ctx context.Context, id string, to, from models.MonitorStatus) (*models.Monitor, error) {
	m, err := s.monitors.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if from != "" && m.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", domrepo.ErrInvalidTransition, m.Status, to)
	}
	prev := m.Status
	now := s.now().UTC()
	if err := m.TransitionTo(to, now); err != nil {
		return nil, err
	}
	if prev == models.StatusError && to == models.StatusActive {
		m.ErrorCount = 0
		m.LastError = ""
		m.NextCheckAt = now
	}
	if prev == models.StatusPaused && to == models.StatusActive && m.NextCheckAt.Before(now) {
		m.NextCheckAt = now
	}
	if err := s.monitors.Update(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("monitor status changed",
		logger.String("monitor_id", m.ID),
		logger.String("from", string(prev)),
		logger.String("to", string(to)),
	)
	return m, nil
}

// ForceCheck queues an immediate check on the critical lane.
func (s *MonitorService) ForceCheck(ctx context.Context, id string) error {
	m, err := s.monitors.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != models.StatusActive {
		return fmt.Errorf("%w: cannot check a %s monitor", domrepo.ErrInvalidTransition, m.Status)
	}
	if err := s.queue.Enqueue(ctx, TaskMonitorCheck, CheckPayload{MonitorID: id}, queue.WithLane(queue.LaneCritical)); err != nil {
		return fmt.Errorf("enqueue check: %w", err)
	}
	return nil
}

func (s *MonitorService) DashboardStats(ctx context.Context, ownerID string) (*models.DashboardStats, error) {
	counts, err := s.monitors.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	owned, err := s.monitors.List(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(owned))
	for _, m := range owned {
		ids = append(ids, m.ID)
	}

	stats := &models.DashboardStats{Monitors: counts}
	if len(ids) == 0 {
		return stats, nil
	}
	as, err := s.alerts.Stats(ctx, ids, s.now().UTC().Add(-dashboardWindow))
	if err != nil {
		return nil, err
	}
	stats.TotalAlerts = as.Total
	stats.UnreadAlerts = as.Unread
	stats.AlertsLast24h = as.Recent
	stats.AvgConfidence24h = as.AvgConfidence
	return stats, nil
}

func (s *MonitorService) ListAlerts(ctx context.Context, monitorID string, unreadOnly bool, limit int) ([]*models.Alert, error) {
	if _, err := s.monitors.Get(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.alerts.List(ctx, models.AlertFilter{MonitorID: monitorID, UnreadOnly: unreadOnly, Limit: limit})
}

func (s *MonitorService) MarkAlertRead(ctx context.Context, alertID string) error {
	return s.alerts.MarkRead(ctx, alertID)
}

func (s *MonitorService) AlertFeedback(ctx context.Context, alertID, feedback string) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return fmt.Errorf("%w: feedback is required", domrepo.ErrInvalidConfig)
	}
	return s.alerts.SetFeedback(ctx, alertID, feedback)
}

// Snapshots returns the monitor's snapshots in [from, to), oldest first. A
// zero to means now.
func (s *MonitorService) Snapshots(ctx context.Context, monitorID string, from, to time.Time, limit int) ([]models.Snapshot, error) {
	if _, err := s.monitors.Get(ctx, monitorID); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now().UTC()
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after start", domrepo.ErrInvalidConfig)
	}
	return s.snapshots.GetRange(ctx, monitorID, from, to, limit)
}

// Aggregation returns the rollup of the period window containing start. A nil
// result means there is no data.
func (s *MonitorService) Aggregation(ctx context.Context, monitorID string, period models.Period, start time.Time) (*models.Aggregation, error) {
	if _, err := s.monitors.Get(ctx, monitorID); err != nil {
		return nil, err
	}
	return s.aggregator.Get(ctx, monitorID, period, start)
}

// normalizeConfig fills defaults, dedups the list fields and validates.
func (s *MonitorService) normalizeConfig(cfg *models.MonitorConfig) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("%w: %v", domrepo.ErrInvalidConfig, err)
	}
	cfg.TrackedMetrics = dedupStrings(cfg.TrackedMetrics)
	cfg.Frameworks = dedupStrings(cfg.Frameworks)
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", domrepo.ErrInvalidConfig, err)
	}
	for _, ev := range cfg.KnownEvents {
		if ev.Date.IsZero() {
			return fmt.Errorf("%w: known event without date", domrepo.ErrInvalidConfig)
		}
	}
	return nil
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
