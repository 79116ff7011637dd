package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/queue"

	"golang.org/x/sync/errgroup"
)

const (
	maintenanceParallelism = 4
	trendWindowDays        = 30
)

// MaintenanceService runs the batch side of the engine: rollups, retention
// and detector retraining.
type MaintenanceService struct {
	monitors   domrepo.MonitorRepository
	snapshots  domrepo.SnapshotStore
	aggregator *analytics.Aggregator
	detectors  *analytics.DetectorRegistry
	queue      queue.Queue
	metrics    domrepo.Metrics
	log        *logger.Logger

	historyDays int
	now         func() time.Time
}

func NewMaintenanceService(
	monitors domrepo.MonitorRepository,
	snapshots domrepo.SnapshotStore,
	aggregator *analytics.Aggregator,
	detectors *analytics.DetectorRegistry,
	q queue.Queue,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
	historyDays int,
) *MaintenanceService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if historyDays <= 0 {
		historyDays = 90
	}
	return &MaintenanceService{
		monitors:    monitors,
		snapshots:   snapshots,
		aggregator:  aggregator,
		detectors:   detectors,
		queue:       q,
		metrics:     metrics,
		log:         lgr.With(logger.String("component", "maintenance")),
		historyDays: historyDays,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *MaintenanceService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AggregateClosed stores the rollups of every period window that contains
// yesterday and has already closed, for all active monitors.
func (s *MaintenanceService) AggregateClosed(ctx context.Context) (int, error) {
	active, err := s.monitors.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active monitors: %w", err)
	}
	now := s.now().UTC()
	yesterday := now.Add(-24 * time.Hour)

	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maintenanceParallelism)
	for _, m := range active {
		m := m
		g.Go(func() error {
			for _, p := range models.AllPeriods {
				ws, we := p.Window(yesterday)
				if we.After(now) {
					continue
				}
				counts, err := s.aggregator.Backfill(gctx, m.ID, ws, we, []models.Period{p})
				if err != nil {
					s.log.Warn("aggregation failed",
						logger.String("monitor_id", m.ID),
						logger.String("period", string(p)),
						logger.Error(err),
					)
					continue
				}
				stored.Add(int64(counts[p]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(stored.Load()), err
	}
	s.log.Info("aggregation pass finished", logger.Int("monitors", len(active)), logger.Int64("stored", stored.Load()))
	return int(stored.Load()), nil
}

// Backfill regenerates the rollups of one monitor over [start, end).
func (s *MaintenanceService) Backfill(ctx context.Context, monitorID string, start, end time.Time, periods []models.Period) (map[models.Period]int, error) {
	if _, err := s.monitors.Get(ctx, monitorID); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: backfill end must be after start", domrepo.ErrInvalidConfig)
	}
	if len(periods) == 0 {
		periods = models.AllPeriods
	}
	return s.aggregator.Backfill(ctx, monitorID, start.UTC(), end.UTC(), periods)
}

// Retention removes snapshots and aggregations older than olderThanDays for
// every monitor, deleted ones included. A dry run only counts.
func (s *MaintenanceService) Retention(ctx context.Context, olderThanDays int, dryRun bool) (*models.RetentionReport, error) {
	if olderThanDays <= 0 {
		return nil, fmt.Errorf("%w: older_than_days must be positive", domrepo.ErrInvalidConfig)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)
	report := &models.RetentionReport{Cutoff: cutoff.Format(time.RFC3339), DryRun: dryRun}

	for _, status := range models.AllStatuses {
		monitors, err := s.monitors.ListByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("list %s monitors: %w", status, err)
		}
		for _, m := range monitors {
			snaps, aggs, err := s.purge(ctx, m.ID, cutoff, dryRun)
			if err != nil {
				return nil, err
			}
			report.Monitors++
			report.Snapshots += snaps
			report.Aggregations += aggs
		}
	}

	s.log.Info("retention finished",
		logger.String("cutoff", report.Cutoff),
		logger.Bool("dry_run", dryRun),
		logger.Int64("snapshots", report.Snapshots),
		logger.Int64("aggregations", report.Aggregations),
	)
	return report, nil
}

func (s *MaintenanceService) purge(ctx context.Context, monitorID string, cutoff time.Time, dryRun bool) (int64, int64, error) {
	if dryRun {
		snaps, err := s.snapshots.CountBefore(ctx, monitorID, cutoff)
		if err != nil {
			return 0, 0, fmt.Errorf("count snapshots of %s: %w", monitorID, err)
		}
		aggs, err := s.aggregator.CountBefore(ctx, monitorID, cutoff)
		if err != nil {
			return 0, 0, fmt.Errorf("count aggregations of %s: %w", monitorID, err)
		}
		return snaps, aggs, nil
	}
	snaps, err := s.snapshots.DeleteBefore(ctx, monitorID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete snapshots of %s: %w", monitorID, err)
	}
	aggs, err := s.aggregator.DeleteBefore(ctx, monitorID, cutoff)
	if err != nil {
		return snaps, 0, fmt.Errorf("delete aggregations of %s: %w", monitorID, err)
	}
	return snaps, aggs, nil
}

// Retrain refits the detectors of all active monitors from their history and
// swaps them in. It returns the number of monitors retrained. Trend reversals
// found in the new models are logged; checks attach them to alerts.
func (s *MaintenanceService) Retrain(ctx context.Context) (int, error) {
	start := time.Now()
	active, err := s.monitors.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active monitors: %w", err)
	}

	var trained atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maintenanceParallelism)
	for _, m := range active {
		m := m
		g.Go(func() error {
			ok, err := s.retrainMonitor(gctx, m)
			if err != nil {
				s.log.Warn("retrain failed", logger.String("monitor_id", m.ID), logger.Error(err))
				if s.metrics != nil {
					s.metrics.RecordError("retrain")
				}
				return nil
			}
			if ok {
				trained.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(trained.Load()), err
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("retrain", time.Since(start).Seconds())
	}
	return int(trained.Load()), nil
}

// retrainMonitor reports whether at least one metric could be fitted. The
// current detector is kept otherwise.
func (s *MaintenanceService) retrainMonitor(ctx context.Context, m *models.Monitor) (bool, error) {
	now := s.now().UTC()
	hist, err := s.snapshots.GetRange(ctx, m.ID, now.AddDate(0, 0, -s.historyDays), now, 0)
	if err != nil {
		return false, fmt.Errorf("load history: %w", err)
	}
	det := s.detectors.New()
	if fitDetector(det, m, hist) == 0 {
		return false, nil
	}
	s.detectors.Replace(m.ID, det)

	for _, metric := range det.Metrics() {
		ta := det.AnalyzeTrend(metric, trendWindowDays)
		if ta == nil || !ta.Reversal {
			continue
		}
		s.log.Info("trend reversal",
			logger.String("monitor_id", m.ID),
			logger.String("metric", metric),
			logger.String("from", string(ta.PreviousDirection)),
			logger.String("to", string(ta.RecentDirection)),
			logger.Float64("confidence", ta.Confidence),
		)
	}
	return true, nil
}

// DeadLetters lists dead-lettered tasks. An empty lane means all lanes.
func (s *MaintenanceService) DeadLetters(ctx context.Context, lane string, limit int) ([]queue.Message, error) {
	var l queue.Lane
	if lane != "" {
		parsed, err := queue.ParseLane(lane)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domrepo.ErrInvalidConfig, err)
		}
		l = parsed
	}
	return s.queue.DeadLetters(ctx, l, limit)
}
