package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/queue"

	"golang.org/x/sync/errgroup"
)

// Checker runs the check cycle of one monitor.
type Checker interface {
	CheckForUpdates(ctx context.Context, monitorID string) (*CheckResult, error)
}

// SchedulerConfig holds the polling and maintenance cadence.
type SchedulerConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	DueLimit          int
	AggregateInterval time.Duration
	RetentionInterval time.Duration
	RetrainInterval   time.Duration
	RetentionDays     int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

func (c *SchedulerConfig) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.DueLimit <= 0 {
		c.DueLimit = 200
	}
	if c.AggregateInterval <= 0 {
		c.AggregateInterval = time.Hour
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = 24 * time.Hour
	}
	if c.RetrainInterval <= 0 {
		c.RetrainInterval = 24 * time.Hour
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Minute
	}
}

// Scheduler polls for due monitors and runs their checks in bounded batches.
// Failed checks are handed to the queue so its retry policy applies.
type Scheduler struct {
	monitors domrepo.MonitorRepository
	checker  Checker
	queue    queue.Queue
	metrics  domrepo.Metrics
	log      *logger.Logger
	cfg      SchedulerConfig
	now      func() time.Time

	mu          sync.Mutex
	lastRun     map[string]time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	isScheduled bool
}

func NewScheduler(monitors domrepo.MonitorRepository, checker Checker, q queue.Queue, metrics domrepo.Metrics, lgr *logger.Logger, cfg SchedulerConfig) *Scheduler {
	if lgr == nil {
		lgr = logger.Nop()
	}
	cfg.normalize()
	return &Scheduler{
		monitors: monitors,
		checker:  checker,
		queue:    q,
		metrics:  metrics,
		log:      lgr.With(logger.String("component", "scheduler")),
		cfg:      cfg,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isScheduled {
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.isScheduled = true

	go s.loop(ctx, s.done)
	s.log.Info("scheduler started",
		logger.Duration("poll_interval", s.cfg.PollInterval),
		logger.Int("batch_size", s.cfg.BatchSize),
	)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isScheduled {
		s.mu.Unlock()
		return nil
	}
	s.isScheduled = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling round: due checks, then maintenance enqueueing.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.RunDue(ctx); err != nil {
		s.log.Error("scheduling round failed", logger.Error(err))
	}
	s.enqueueMaintenance(ctx)
	s.reportMonitors(ctx)
}

// RunDue checks every due monitor in sequential batches. It returns the
// number of monitors attempted.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	due, err := s.monitors.ListDue(ctx, s.now().UTC(), s.cfg.DueLimit)
	if err != nil {
		return 0, fmt.Errorf("list due monitors: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	for i := 0; i < len(due); i += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		end := i + s.cfg.BatchSize
		if end > len(due) {
			end = len(due)
		}

		var g errgroup.Group
		for _, m := range due[i:end] {
			id := m.ID
			g.Go(func() error {
				s.check(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.log.Debug("due monitors checked", logger.Int("count", len(due)))
	return len(due), nil
}

func (s *Scheduler) check(ctx context.Context, monitorID string) {
	if _, err := s.checker.CheckForUpdates(ctx, monitorID); err != nil {
		l := s.log.With(logger.String("monitor_id", monitorID))
		if isDomainError(err) {
			l.Warn("check rejected", logger.Error(err))
			return
		}
		l.Warn("check failed, handing to queue", logger.Error(err))
		delay := queue.Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, 1)
		if qerr := s.queue.Enqueue(ctx, TaskMonitorCheck, CheckPayload{MonitorID: monitorID},
			queue.WithAttempts(1), queue.WithDelay(delay)); qerr != nil {
			l.Error("failed to enqueue check retry", logger.Error(qerr))
		}
	}
}

func (s *Scheduler) enqueueMaintenance(ctx context.Context) {
	now := s.now()
	tasks := []struct {
		typ      string
		interval time.Duration
		payload  interface{}
	}{
		{TaskAggregate, s.cfg.AggregateInterval, AggregatePayload{}},
		{TaskRetention, s.cfg.RetentionInterval, RetentionPayload{OlderThanDays: s.cfg.RetentionDays}},
		{TaskRetrain, s.cfg.RetrainInterval, struct{}{}},
	}
	for _, t := range tasks {
		s.mu.Lock()
		last, ok := s.lastRun[t.typ]
		due := !ok || now.Sub(last) >= t.interval
		if due {
			s.lastRun[t.typ] = now
		}
		s.mu.Unlock()
		if !due {
			continue
		}
		if err := s.queue.Enqueue(ctx, t.typ, t.payload, queue.WithLane(queue.LaneLow)); err != nil {
			s.log.Warn("failed to enqueue maintenance", logger.String("type", t.typ), logger.Error(err))
		}
	}
}

func (s *Scheduler) reportMonitors(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.monitors.CountByStatus(ctx, "")
	if err != nil {
		return
	}
	for _, st := range models.AllStatuses {
		s.metrics.RecordMonitors(string(st), counts[st])
	}
}
