package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkPayload struct {
	MonitorID string `json:"monitor_id"`
}

type recordingJob struct {
	typ   string
	mu    sync.Mutex
	seen  []string
	fail  func(calls int32) error
	calls atomic.Int32
}

func (j *recordingJob) Name() string { return j.typ + "-job" }
func (j *recordingJob) Type() string { return j.typ }

func (j *recordingJob) Handle(_ context.Context, payload interface{}) error {
	n := j.calls.Add(1)
	p, err := ParsePayload[checkPayload](payload)
	if err != nil {
		return Permanent(err)
	}
	j.mu.Lock()
	j.seen = append(j.seen, p.MonitorID)
	j.mu.Unlock()
	if j.fail != nil {
		return j.fail(n)
	}
	return nil
}

func (j *recordingJob) order() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.seen...)
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
	dead    int
}

func (o *countingObserver) TaskProcessed(_, _, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func (o *countingObserver) TaskDeadLettered(_, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dead++
}

func fastConfig() *QueueConfig {
	return &QueueConfig{
		Workers:     1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		TaskTimeout: time.Second,
		LaneRates:   map[Lane]float64{},
	}
}

func TestBackoffIsCappedWithJitter(t *testing.T) {
	base, max := 30*time.Second, 15*time.Minute
	for attempt := 1; attempt <= 10; attempt++ {
		full := base << (attempt - 1)
		if full > max {
			full = max
		}
		for i := 0; i < 20; i++ {
			d := Backoff(base, max, attempt)
			assert.LessOrEqual(t, d, full)
			assert.GreaterOrEqual(t, d, full/2)
		}
	}
}

func TestMemoryQueueDrainsHigherLanesFirst(t *testing.T) {
	q := NewMemoryQueue(nil, fastConfig(), nil)
	job := &recordingJob{typ: "monitor.check"}
	q.RegisterJob(job)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "monitor.check", checkPayload{MonitorID: "low"}, WithLane(LaneLow)))
	require.NoError(t, q.Enqueue(ctx, "monitor.check", checkPayload{MonitorID: "normal"}))
	require.NoError(t, q.Enqueue(ctx, "monitor.check", checkPayload{MonitorID: "critical"}, WithLane(LaneCritical)))
	require.NoError(t, q.Enqueue(ctx, "monitor.check", checkPayload{MonitorID: "high"}, WithLane(LaneHigh)))

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.Eventually(t, func() bool { return len(job.order()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, job.order())
}

func TestMemoryQueueRetriesThenDeadLetters(t *testing.T) {
	obs := &countingObserver{}
	q := NewMemoryQueue(nil, fastConfig(), obs)
	job := &recordingJob{typ: "monitor.check", fail: func(int32) error { return errors.New("engine unavailable") }}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "monitor.check", checkPayload{MonitorID: "m1"}))

	require.Eventually(t, func() bool {
		dl, _ := q.DeadLetters(context.Background(), "", 0)
		return len(dl) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), job.calls.Load())
	dl, err := q.DeadLetters(context.Background(), LaneNormal, 10)
	require.NoError(t, err)
	require.Len(t, dl, 1)
	assert.Equal(t, 3, dl[0].Attempts)
	assert.Equal(t, "engine unavailable", dl[0].LastError)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.results[ResultRetry])
	assert.Equal(t, 1, obs.results[ResultDead])
	assert.Equal(t, 1, obs.dead)
}

func TestMemoryQueueInheritedAttemptsShrinkBudget(t *testing.T) {
	q := NewMemoryQueue(nil, fastConfig(), nil)
	job := &recordingJob{typ: "monitor.check", fail: func(int32) error { return errors.New("boom") }}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "monitor.check", checkPayload{MonitorID: "m1"},
		WithAttempts(1), WithDelay(time.Millisecond)))

	require.Eventually(t, func() bool {
		dl, _ := q.DeadLetters(context.Background(), LaneNormal, 0)
		return len(dl) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), job.calls.Load())
}

func TestMemoryQueuePermanentSkipsRetry(t *testing.T) {
	q := NewMemoryQueue(nil, fastConfig(), nil)
	job := &recordingJob{typ: "alert.deliver", fail: func(int32) error { return Permanent(errors.New("monitor deleted")) }}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "alert.deliver", checkPayload{MonitorID: "m1"}, WithLane(LaneHigh)))

	require.Eventually(t, func() bool {
		dl, _ := q.DeadLetters(context.Background(), LaneHigh, 0)
		return len(dl) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), job.calls.Load())
}

func TestMemoryQueueRecoversAfterTransientFailure(t *testing.T) {
	q := NewMemoryQueue(nil, fastConfig(), nil)
	job := &recordingJob{typ: "monitor.check", fail: func(n int32) error {
		if n == 1 {
			return errors.New("flaky")
		}
		return nil
	}}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "monitor.check", checkPayload{MonitorID: "m1"}))
	require.Eventually(t, func() bool { return job.calls.Load() == 2 && q.Pending() == 0 }, time.Second, 5*time.Millisecond)

	dl, err := q.DeadLetters(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, dl)
}

func TestParseLane(t *testing.T) {
	l, err := ParseLane("")
	require.NoError(t, err)
	assert.Equal(t, LaneNormal, l)

	l, err = ParseLane("critical")
	require.NoError(t, err)
	assert.Equal(t, LaneCritical, l)

	_, err = ParseLane("urgent")
	assert.Error(t, err)
}

func TestPermanentUnwraps(t *testing.T) {
	base := errors.New("not found")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
