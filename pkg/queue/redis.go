package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"IntelWatch/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueue represents a Redis-based queue. Each lane is a list; workers BRPOP
// over the lane keys in priority order so a ready critical task always wins.
// Delayed and retried tasks wait in a ZSET scored by their due time.
type RedisQueue struct {
	*runner

	client    *redis.Client
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
	pollEvery time.Duration
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithRetryPoll sets how often due retries are moved back onto their lane.
func WithRetryPoll(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		r.pollEvery = d
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, obs Observer, opts ...RedisQueueOption) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())

	rq := &RedisQueue{
		runner:    newRunner(lgr, config, obs),
		client:    client,
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "intelwatch:queue",
		pollEvery: time.Second,
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers a single job.
func (r *RedisQueue) RegisterJob(job Job) {
	r.register(job)
}

// Start starts the queue server.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.isRunning = true
	r.mu.Unlock()

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.retryProcessor()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr))

	return nil
}

// Stop gracefully stops the queue.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.logger.Info("stopping redis queue...")
	r.cancel()
	close(r.stopCh)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped gracefully")
		return nil
	}
}

// Enqueue adds a message to its lane, or to the delay set when WithDelay is given.
// Producers need not run workers, so Enqueue works before Start.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}, opts ...EnqueueOption) error {
	o := buildOptions(opts)
	msg, err := newMessage(msgType, payload, o)
	if err != nil {
		return err
	}

	if o.delay > 0 {
		return r.scheduleRetry(ctx, msg, time.Now().Add(o.delay))
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := r.client.LPush(ctx, r.laneKey(msg.Lane), msgData).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}

	return nil
}

// DeadLetters reads dead-lettered messages without removing them.
func (r *RedisQueue) DeadLetters(ctx context.Context, lane Lane, limit int) ([]Message, error) {
	lanes := Lanes
	if lane != "" {
		lanes = []Lane{lane}
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var out []Message
	for _, l := range lanes {
		items, err := r.client.LRange(ctx, r.deadLetterKey(l), 0, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("lrange dlq %s: %w", l, err)
		}
		for _, item := range items {
			var msg Message
			if err := json.Unmarshal([]byte(item), &msg); err != nil {
				r.logger.Warn("skip malformed dead letter", logger.Error(err))
				continue
			}
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Info("queue worker started", logger.Int("worker_id", id))

	keys := make([]string, len(Lanes))
	for i, l := range Lanes {
		keys[i] = r.laneKey(l)
	}

	for {
		select {
		case <-r.stopCh:
			r.logger.Info("queue worker stopping", logger.Int("worker_id", id))
			return
		case <-r.ctx.Done():
			r.logger.Info("queue worker cancelled", logger.Int("worker_id", id))
			return
		default:
			r.processNextMessage(keys)
		}
	}
}

func (r *RedisQueue) processNextMessage(keys []string) {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()

	result, err := r.client.BRPop(ctx, 1*time.Second, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		time.Sleep(1 * time.Second)
		return
	}

	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}

	r.processMessage(msg)
}

func (r *RedisQueue) processMessage(msg Message) {
	// Writes below use a fresh context so a shutdown mid-task still records the outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch res, delay := r.run(r.ctx, &msg); res {
	case outcomeRetry:
		if err := r.scheduleRetry(ctx, msg, time.Now().Add(delay)); err != nil {
			r.logger.Error("zadd retry", logger.String("id", msg.ID), logger.Error(err))
		}
	case outcomeDead:
		r.moveToDeadLetterQueue(ctx, msg)
	case outcomeCancelled:
		if err := r.scheduleRetry(ctx, msg, time.Now()); err != nil {
			r.logger.Error("requeue cancelled message", logger.String("id", msg.ID), logger.Error(err))
		}
	}
}

func (r *RedisQueue) scheduleRetry(ctx context.Context, msg Message, retryTime time.Time) error {
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}

	return r.client.ZAdd(ctx, r.retryKey(), redis.Z{
		Score:  float64(retryTime.UnixMilli()),
		Member: msgData,
	}).Err()
}

func (r *RedisQueue) moveToDeadLetterQueue(ctx context.Context, msg Message) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}

	if err := r.client.LPush(ctx, r.deadLetterKey(msg.Lane), msgData).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()
	r.logger.Info("retry processor started")

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logger.Info("retry processor stopping")
			return
		case <-r.ctx.Done():
			r.logger.Info("retry processor cancelled")
			return
		case <-ticker.C:
			r.processRetryMessages()
		}
	}
}

func (r *RedisQueue) processRetryMessages() {
	now := time.Now().UnixMilli()

	result, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now, 10),
	}).Result()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("fetch retry messages", logger.Error(err))
		return
	}

	for _, msgData := range result {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			r.logger.Error("unmarshal retry message", logger.Error(err))
			r.client.ZRem(r.ctx, r.retryKey(), msgData)
			continue
		}

		// ZREM decides ownership when several instances poll the same set.
		removed, err := r.client.ZRem(r.ctx, r.retryKey(), msgData).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(r.ctx, r.laneKey(msg.Lane), msgData).Err(); err != nil {
			r.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (r *RedisQueue) laneKey(l Lane) string {
	return fmt.Sprintf("%s:lane:%s", r.keyPrefix, l)
}

func (r *RedisQueue) retryKey() string {
	return fmt.Sprintf("%s:retry", r.keyPrefix)
}

func (r *RedisQueue) deadLetterKey(l Lane) string {
	return fmt.Sprintf("%s:dlq:%s", r.keyPrefix, l)
}

var _ Queue = (*RedisQueue)(nil)
