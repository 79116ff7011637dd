package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/internal/repository"
	"IntelWatch/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    []string
	errs     map[string]error
	delay    time.Duration
}

func (c *fakeChecker) CheckForUpdates(_ context.Context, id string) (*CheckResult, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.calls = append(c.calls, id)
	err := c.errs[id]
	c.mu.Unlock()

	time.Sleep(c.delay)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return &CheckResult{MonitorID: id}, err
}

func seedDue(t *testing.T, repo *repository.MemoryMonitorRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), &models.Monitor{
			ID:          fmt.Sprintf("m-%d", i),
			OwnerID:     "owner-1",
			Subject:     fmt.Sprintf("subject-%d", i),
			Status:      models.StatusActive,
			NextCheckAt: base.Add(-time.Duration(n-i) * time.Minute),
		}))
	}
}

func TestRunDueRespectsBatchSize(t *testing.T) {
	repo := repository.NewMemoryMonitorRepository()
	seedDue(t, repo, 5)
	checker := &fakeChecker{delay: 20 * time.Millisecond}
	s := NewScheduler(repo, checker, &recordingQueue{}, metrics.Nop{}, nil, SchedulerConfig{BatchSize: 2})
	s.SetClock(func() time.Time { return base })

	n, err := s.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, checker.calls, 5)
	assert.LessOrEqual(t, checker.maxSeen, 2)
}

func TestRunDueIgnoresMonitorsNotYetDue(t *testing.T) {
	repo := repository.NewMemoryMonitorRepository()
	require.NoError(t, repo.Create(context.Background(), &models.Monitor{
		ID: "later", OwnerID: "o", Subject: "s", Status: models.StatusActive, NextCheckAt: base.Add(time.Hour),
	}))
	checker := &fakeChecker{}
	s := NewScheduler(repo, checker, &recordingQueue{}, metrics.Nop{}, nil, SchedulerConfig{})
	s.SetClock(func() time.Time { return base })

	n, err := s.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, checker.calls)
}

func TestRunDueHandsTransientFailuresToQueue(t *testing.T) {
	repo := repository.NewMemoryMonitorRepository()
	seedDue(t, repo, 3)
	checker := &fakeChecker{errs: map[string]error{
		"m-0": errUpstream,
		"m-1": fmt.Errorf("check: %w", domrepo.ErrNotFound),
	}}
	q := &recordingQueue{}
	s := NewScheduler(repo, checker, q, metrics.Nop{}, nil, SchedulerConfig{})
	s.SetClock(func() time.Time { return base })

	_, err := s.RunDue(context.Background())
	require.NoError(t, err)

	retries := q.ofType(TaskMonitorCheck)
	require.Len(t, retries, 1)
	assert.Equal(t, CheckPayload{MonitorID: "m-0"}, retries[0].payload)
}

func TestTickEnqueuesMaintenanceOncePerInterval(t *testing.T) {
	clock := &testClock{t: base}
	q := &recordingQueue{}
	s := NewScheduler(repository.NewMemoryMonitorRepository(), &fakeChecker{}, q, metrics.Nop{}, nil, SchedulerConfig{
		AggregateInterval: time.Hour,
		RetentionInterval: 24 * time.Hour,
		RetrainInterval:   24 * time.Hour,
		RetentionDays:     30,
	})
	s.SetClock(clock.Now)
	ctx := context.Background()

	s.Tick(ctx)
	s.Tick(ctx)
	assert.Len(t, q.ofType(TaskAggregate), 1)
	assert.Len(t, q.ofType(TaskRetrain), 1)
	retention := q.ofType(TaskRetention)
	require.Len(t, retention, 1)
	assert.Equal(t, RetentionPayload{OlderThanDays: 30}, retention[0].payload)

	clock.Advance(time.Hour)
	s.Tick(ctx)
	assert.Len(t, q.ofType(TaskAggregate), 2)
	assert.Len(t, q.ofType(TaskRetention), 1)
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(repository.NewMemoryMonitorRepository(), &fakeChecker{}, &recordingQueue{}, metrics.Nop{}, nil,
		SchedulerConfig{PollInterval: 10 * time.Millisecond})

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
