package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/repository"
	"IntelWatch/internal/services/analytics"
	"IntelWatch/pkg/cache"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/metrics"
	"IntelWatch/pkg/queue"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubEngine struct {
	mu      sync.Mutex
	results []*models.AnalysisResult
	last    *models.AnalysisResult
	err     error
	calls   int
	hook    func()
}

// Analyze pops the queued results in order. Once the queue is drained it
// repeats the last result returned.
func (e *stubEngine) Analyze(_ context.Context, _ models.AnalysisRequest) (*models.AnalysisResult, error) {
	e.mu.Lock()
	e.calls++
	hook := e.hook
	err := e.err
	if err == nil && len(e.results) > 0 {
		e.last = e.results[0]
		e.results = e.results[1:]
	}
	last := e.last
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if last == nil {
		return &models.AnalysisResult{}, nil
	}
	return last, nil
}

// during runs fn inside every later Analyze call.
func (e *stubEngine) during(fn func()) {
	e.mu.Lock()
	e.hook = fn
	e.mu.Unlock()
}

func (e *stubEngine) push(rs ...*models.AnalysisResult) {
	e.mu.Lock()
	e.results = append(e.results, rs...)
	e.mu.Unlock()
}

func (e *stubEngine) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func revenue(v float64) *models.AnalysisResult {
	return &models.AnalysisResult{
		FinancialMetrics: models.FinancialMetrics{"revenue": v},
		MarketTrends:     []string{"cloud"},
	}
}

type enqueued struct {
	typ     string
	payload interface{}
}

type recordingQueue struct {
	mu    sync.Mutex
	items []enqueued
	jobs  map[string]queue.Job
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}, _ ...queue.EnqueueOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, enqueued{typ: msgType, payload: payload})
	return nil
}

func (q *recordingQueue) RegisterJob(job queue.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = map[string]queue.Job{}
	}
	q.jobs[job.Type()] = job
}

func (q *recordingQueue) Start() error               { return nil }
func (q *recordingQueue) Stop(context.Context) error { return nil }
func (q *recordingQueue) DeadLetters(context.Context, queue.Lane, int) ([]queue.Message, error) {
	return nil, nil
}

func (q *recordingQueue) ofType(typ string) []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []enqueued
	for _, it := range q.items {
		if it.typ == typ {
			out = append(out, it)
		}
	}
	return out
}

type recordingFeed struct {
	mu     sync.Mutex
	alerts map[string][]*models.Alert
}

func (f *recordingFeed) Publish(ownerID string, a *models.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alerts == nil {
		f.alerts = map[string][]*models.Alert{}
	}
	f.alerts[ownerID] = append(f.alerts[ownerID], a)
}

func (f *recordingFeed) count(ownerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts[ownerID])
}

type fixture struct {
	clock     *testClock
	monitors  *repository.MemoryMonitorRepository
	alerts    *repository.MemoryAlertRepository
	snapshots *repository.SnapshotStore
	cache     *cache.MemoryCache
	engine    *stubEngine
	queue     *recordingQueue
	feed      *recordingFeed
	detectors *analytics.DetectorRegistry

	check *CheckService
	svc   *MonitorService
	maint *MaintenanceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &testClock{t: base},
		monitors: repository.NewMemoryMonitorRepository(),
		alerts:   repository.NewMemoryAlertRepository(),
		cache:    cache.NewMemoryCache(),
		engine:   &stubEngine{},
		queue:    &recordingQueue{},
		feed:     &recordingFeed{},
	}
	t.Cleanup(func() { _ = f.cache.Close() })

	store, err := repository.NewSnapshotStore(repository.NewMemorySnapshotBackend(), logger.Nop(), metrics.Nop{},
		repository.WithBatching(100, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	f.snapshots = store

	f.detectors = analytics.NewDetectorRegistry(func() *analytics.AnomalyDetector {
		return analytics.NewAnomalyDetector(nil, analytics.WithMinPoints(5), analytics.WithClock(f.clock.Now))
	})
	scorer := analytics.NewAlertScorer(repository.NewCacheDedupStore(f.cache), metrics.Nop{}, nil,
		analytics.WithScorerClock(f.clock.Now))
	aggregator := analytics.NewAggregator(store, repository.NewMemoryAggregationRepository(), nil,
		analytics.WithAggregatorClock(f.clock.Now))

	f.check = NewCheckService(f.monitors, f.alerts, store, f.engine, analytics.NewChangeDetector(), f.detectors,
		scorer, analytics.NewRootCauseAnalyzer(nil), f.queue, f.cache, f.feed, metrics.Nop{}, nil, 90, time.Minute)
	f.check.SetClock(f.clock.Now)

	f.svc = NewMonitorService(f.monitors, f.alerts, store, aggregator, f.detectors, f.check, f.queue, nil)
	f.svc.SetClock(f.clock.Now)

	f.maint = NewMaintenanceService(f.monitors, store, aggregator, f.detectors, f.queue, metrics.Nop{}, nil, 90)
	f.maint.SetClock(f.clock.Now)
	return f
}

func (f *fixture) create(t *testing.T, owner, subject string) *models.Monitor {
	t.Helper()
	m, err := f.svc.Create(context.Background(), models.CreateMonitorRequest{OwnerID: owner, Subject: subject})
	require.NoError(t, err)
	return m
}

var errUpstream = errors.New("upstream unavailable")
