package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"IntelWatch/pkg/logger"
)

// MemoryQueue keeps lanes in process. Used in single-instance mode and tests.
type MemoryQueue struct {
	*runner

	mu        sync.Mutex
	lanes     map[Lane][]Message
	dead      map[Lane][]Message
	timers    map[string]*time.Timer
	notify    chan struct{}
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig, obs Observer) *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		runner: newRunner(lgr, config, obs),
		lanes:  make(map[Lane][]Message),
		dead:   make(map[Lane][]Message),
		timers: make(map[string]*time.Timer),
		notify: make(chan struct{}, 1024),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.register(job)
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.logger.Info("memory queue stopped")
		return nil
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msgType string, payload interface{}, opts ...EnqueueOption) error {
	o := buildOptions(opts)
	msg, err := newMessage(msgType, payload, o)
	if err != nil {
		return err
	}
	q.schedule(msg, o.delay)
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, lane Lane, limit int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lanes := Lanes
	if lane != "" {
		lanes = []Lane{lane}
	}

	var out []Message
	for _, l := range lanes {
		msgs := q.dead[l]
		for i := len(msgs) - 1; i >= 0; i-- {
			out = append(out, msgs[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Pending returns the number of ready plus delayed messages.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.timers)
	for _, msgs := range q.lanes {
		n += len(msgs)
	}
	return n
}

func (q *MemoryQueue) schedule(msg Message, delay time.Duration) {
	if delay <= 0 {
		q.push(msg)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.timers[msg.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		_, live := q.timers[msg.ID]
		delete(q.timers, msg.ID)
		q.mu.Unlock()
		if live {
			q.push(msg)
		}
	})
}

func (q *MemoryQueue) push(msg Message) {
	q.mu.Lock()
	q.lanes[msg.Lane] = append(q.lanes[msg.Lane], msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop takes the oldest message of the highest non-empty lane.
func (q *MemoryQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, l := range Lanes {
		if msgs := q.lanes[l]; len(msgs) > 0 {
			msg := msgs[0]
			q.lanes[l] = msgs[1:]
			return msg, true
		}
	}
	return Message{}, false
}

func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()

	idle := time.NewTicker(100 * time.Millisecond)
	defer idle.Stop()

	for {
		if q.ctx.Err() != nil {
			q.logger.Debug("queue worker stopping", logger.Int("worker_id", id))
			return
		}

		msg, ok := q.pop()
		if !ok {
			select {
			case <-q.ctx.Done():
			case <-q.notify:
			case <-idle.C:
			}
			continue
		}

		switch res, delay := q.run(q.ctx, &msg); res {
		case outcomeRetry:
			q.schedule(msg, delay)
		case outcomeDead:
			q.mu.Lock()
			q.dead[msg.Lane] = append(q.dead[msg.Lane], msg)
			q.mu.Unlock()
		case outcomeCancelled:
			q.push(msg)
		}
	}
}

var _ Queue = (*MemoryQueue)(nil)
