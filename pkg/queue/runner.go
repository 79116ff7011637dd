package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"IntelWatch/pkg/logger"

	"golang.org/x/time/rate"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
	outcomeCancelled
)

// runner holds what both queue transports share: the job table, lane limiters
// and the retry policy.
type runner struct {
	logger   *logger.Logger
	config   *QueueConfig
	observer Observer

	mu       sync.RWMutex
	jobs     map[string]Job
	limiters map[Lane]*rate.Limiter
}

func newRunner(lgr *logger.Logger, config *QueueConfig, obs Observer) *runner {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()

	limiters := make(map[Lane]*rate.Limiter, len(Lanes))
	for _, l := range Lanes {
		r := config.LaneRates[l]
		if r <= 0 {
			continue
		}
		burst := int(r)
		if burst < 1 {
			burst = 1
		}
		limiters[l] = rate.NewLimiter(rate.Limit(r), burst)
	}

	return &runner{
		logger:   lgr,
		config:   config,
		observer: obs,
		jobs:     make(map[string]Job),
		limiters: limiters,
	}
}

func (r *runner) register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}

	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

func (r *runner) job(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// wait blocks until the lane limiter admits one task.
func (r *runner) wait(ctx context.Context, lane Lane) error {
	lim, ok := r.limiters[lane]
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// run executes one attempt and decides what happens next. On outcomeRetry the
// returned duration is the delay before the next attempt. msg is updated in place.
func (r *runner) run(ctx context.Context, msg *Message) (outcome, time.Duration) {
	job, ok := r.job(msg.Type)
	if !ok {
		msg.LastError = fmt.Sprintf("no job registered for type: %s", msg.Type)
		r.deadLetter(msg)
		return outcomeDead, 0
	}

	if err := r.wait(ctx, msg.Lane); err != nil {
		return outcomeCancelled, 0
	}

	tctx, cancel := context.WithTimeout(ctx, r.config.TaskTimeout)
	start := time.Now()
	err := job.Handle(tctx, msg.Payload)
	timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	if err == nil && !timedOut {
		r.observe(msg, ResultSuccess, elapsed)
		return outcomeDone, 0
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		r.logger.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int64("elapsed_ms", elapsed.Milliseconds()))
		return outcomeCancelled, 0
	}

	if err == nil {
		err = fmt.Errorf("task exceeded %s", r.config.TaskTimeout)
	}

	msg.Attempts++
	msg.LastError = err.Error()

	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.String("lane", string(msg.Lane)),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))

	if IsPermanent(err) || msg.Attempts >= r.config.MaxAttempts {
		r.observe(msg, ResultDead, elapsed)
		r.deadLetter(msg)
		return outcomeDead, 0
	}

	delay := Backoff(r.config.BackoffBase, r.config.BackoffMax, msg.Attempts)
	r.observe(msg, ResultRetry, elapsed)
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Duration("delay", delay))
	return outcomeRetry, delay
}

func (r *runner) deadLetter(msg *Message) {
	r.logger.Error("message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.String("lane", string(msg.Lane)),
		logger.Int("attempts", msg.Attempts),
		logger.String("last_error", msg.LastError),
		logger.String("payload", string(msg.Payload)),
		logger.Time("enqueued_at", msg.Timestamp))
	if r.observer != nil {
		r.observer.TaskDeadLettered(string(msg.Lane), msg.Type)
	}
}

func (r *runner) observe(msg *Message, result string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.TaskProcessed(string(msg.Lane), msg.Type, result, elapsed)
	}
}
