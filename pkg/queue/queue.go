package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Lane is a static priority class. Workers always drain higher lanes first.
type Lane string

const (
	LaneCritical Lane = "critical"
	LaneHigh     Lane = "high"
	LaneNormal   Lane = "normal"
	LaneLow      Lane = "low"
)

// Lanes lists every lane in priority order.
var Lanes = []Lane{LaneCritical, LaneHigh, LaneNormal, LaneLow}

// ParseLane validates a lane name. An empty string yields LaneNormal.
func ParseLane(s string) (Lane, error) {
	if s == "" {
		return LaneNormal, nil
	}
	for _, l := range Lanes {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown lane: %s", s)
}

// Queue is a prioritized task queue with bounded retries and a dead-letter lane.
type Queue interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}, opts ...EnqueueOption) error
	RegisterJob(job Job)
	Start() error
	Stop(ctx context.Context) error
	// DeadLetters returns up to limit dead-lettered messages, newest first.
	// An empty lane means all lanes.
	DeadLetters(ctx context.Context, lane Lane, limit int) ([]Message, error)
}

// Observer receives task outcomes. pkg/metrics implements it.
type Observer interface {
	TaskProcessed(lane, taskType, result string, elapsed time.Duration)
	TaskDeadLettered(lane, taskType string)
}

// Task outcomes reported to the Observer.
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDead    = "dead"
)

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers     int              // number of workers
	MaxAttempts int              // total attempts before dead-lettering
	BackoffBase time.Duration    // delay before the second attempt
	BackoffMax  time.Duration    // backoff ceiling
	TaskTimeout time.Duration    // per-attempt deadline
	LaneRates   map[Lane]float64 // tasks/sec per lane, 0 = unlimited
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *QueueConfig {
	return &QueueConfig{
		Workers:     4,
		MaxAttempts: 3,
		BackoffBase: 30 * time.Second,
		BackoffMax:  15 * time.Minute,
		TaskTimeout: 2 * time.Minute,
		LaneRates: map[Lane]float64{
			LaneCritical: 0,
			LaneHigh:     20,
			LaneNormal:   10,
			LaneLow:      2,
		},
	}
}

func (c *QueueConfig) normalize() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.LaneRates == nil {
		c.LaneRates = d.LaneRates
	}
}

// Message represents a message in the queue
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Lane      Lane            `json:"lane"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EnqueueOption adjusts a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	lane     Lane
	delay    time.Duration
	attempts int
}

// WithLane places the task on a lane. Default is LaneNormal.
func WithLane(l Lane) EnqueueOption {
	return func(o *enqueueOptions) {
		o.lane = l
	}
}

// WithDelay defers the first run.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// WithAttempts records attempts already spent elsewhere, e.g. an inline run
// that failed before the task was handed to the queue.
func WithAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.attempts = n
	}
}

func buildOptions(opts []EnqueueOption) enqueueOptions {
	o := enqueueOptions{lane: LaneNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lane == "" {
		o.lane = LaneNormal
	}
	return o
}

// Backoff returns min(max, base*2^(attempt-1)) minus up to 50% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int63n(half + 1))
	}
	return d
}

func newMessage(msgType string, payload interface{}, o enqueueOptions) (Message, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Lane:      o.lane,
		Payload:   raw,
		Attempts:  o.attempts,
		Timestamp: time.Now(),
	}, nil
}
