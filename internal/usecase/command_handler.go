package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	pkgkafka "IntelWatch/pkg/kafka"
	"IntelWatch/pkg/queue"
	"IntelWatch/pkg/util"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
)

// Command actions accepted on the command topic.
const (
	ActionForceCheck = "force_check"
	ActionBackfill   = "backfill"
)

// Command is the command topic message schema.
type Command struct {
	Action    string          `json:"action" validate:"required,oneof=force_check backfill"`
	MonitorID string          `json:"monitor_id" validate:"required"`
	Periods   []models.Period `json:"periods,omitempty" validate:"dive,oneof=daily weekly monthly"`
	Start     string          `json:"start,omitempty" validate:"required_if=Action backfill"`
	End       string          `json:"end,omitempty" validate:"required_if=Action backfill"`
}

// CommandHandler consumes the command topic and turns each command into a
// queue task.
type CommandHandler struct {
	topic    string
	queue    queue.Queue
	metrics  domrepo.Metrics
	validate *validator.Validate
}

func NewCommandHandler(topic string, q queue.Queue, metrics domrepo.Metrics) *CommandHandler {
	return &CommandHandler{topic: topic, queue: q, metrics: metrics, validate: validator.New()}
}

func (h *CommandHandler) Topic() string { return h.topic }

func (h *CommandHandler) Handle(ctx context.Context, b []byte) error {
	cmd, err := h.Decode(b)
	if err != nil {
		h.recordError("command_invalid")
		return err
	}

	start := time.Now()
	switch cmd.Action {
	case ActionForceCheck:
		err = h.queue.Enqueue(ctx, TaskMonitorCheck, CheckPayload{MonitorID: cmd.MonitorID}, queue.WithLane(queue.LaneCritical))
	case ActionBackfill:
		from, _ := util.ParseTime(cmd.Start)
		to, _ := util.ParseTime(cmd.End)
		err = h.queue.Enqueue(ctx, TaskAggregate, AggregatePayload{
			MonitorID: cmd.MonitorID,
			Start:     from,
			End:       to,
			Periods:   cmd.Periods,
		})
	}
	if h.metrics != nil {
		h.metrics.RecordLatency("command_enqueue", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("command_enqueue")
		return fmt.Errorf("enqueue %s: %w", cmd.Action, err)
	}
	return nil
}

// Decode parses and validates a command. Backfill bounds must parse and be
// ordered.
func (h *CommandHandler) Decode(b []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if err := h.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", domrepo.ErrInvalidConfig, err)
	}
	if cmd.Action == ActionBackfill {
		from, ok := util.ParseTime(cmd.Start)
		if !ok {
			return nil, fmt.Errorf("%w: bad start %q", domrepo.ErrInvalidConfig, cmd.Start)
		}
		to, ok := util.ParseTime(cmd.End)
		if !ok {
			return nil, fmt.Errorf("%w: bad end %q", domrepo.ErrInvalidConfig, cmd.End)
		}
		if !to.After(from) {
			return nil, fmt.Errorf("%w: end must be after start", domrepo.ErrInvalidConfig)
		}
	}
	return &cmd, nil
}

func (h *CommandHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

// NewCommandValidationHook rejects malformed commands before the handler runs
// so they go straight to error processing.
func NewCommandValidationHook(h *CommandHandler) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			if topic != h.Topic() {
				return ctx, km, data, nil
			}
			if _, err := h.Decode(data); err != nil {
				return ctx, km, data, &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
			}
			return ctx, km, data, nil
		},
	}
}

var _ pkgkafka.MessageHandler = (*CommandHandler)(nil)
