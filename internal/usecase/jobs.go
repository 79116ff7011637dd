package usecase

import (
	"context"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/pkg/queue"
)

// Queue task types.
const (
	TaskMonitorCheck = "monitor.check"
	TaskAlertDeliver = "alert.deliver"
	TaskAggregate    = "maintenance.aggregate"
	TaskRetention    = "maintenance.retention"
	TaskRetrain      = "maintenance.retrain"
)

type CheckPayload struct {
	MonitorID string `json:"monitor_id"`
}

type DeliverPayload struct {
	AlertID   string `json:"alert_id"`
	MonitorID string `json:"monitor_id"`
}

// AggregatePayload without a monitor runs the periodic rollup of closed
// windows; with one it backfills that monitor over [Start, End).
type AggregatePayload struct {
	MonitorID string          `json:"monitor_id,omitempty"`
	Start     time.Time       `json:"start,omitempty"`
	End       time.Time       `json:"end,omitempty"`
	Periods   []models.Period `json:"periods,omitempty"`
}

type RetentionPayload struct {
	OlderThanDays int  `json:"older_than_days"`
	DryRun        bool `json:"dry_run"`
}

// taskError marks validation failures as permanent so the queue dead-letters
// them without retrying.
func taskError(err error) error {
	if err != nil && isDomainError(err) {
		return queue.Permanent(err)
	}
	return err
}

type checkJob struct{ svc *CheckService }

func (j *checkJob) Name() string { return "monitor-check" }
func (j *checkJob) Type() string { return TaskMonitorCheck }

func (j *checkJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[CheckPayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	_, err = j.svc.CheckForUpdates(ctx, p.MonitorID)
	return taskError(err)
}

type deliverJob struct{ svc *DeliveryService }

func (j *deliverJob) Name() string { return "alert-deliver" }
func (j *deliverJob) Type() string { return TaskAlertDeliver }

func (j *deliverJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[DeliverPayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	return taskError(j.svc.Deliver(ctx, p.AlertID))
}

type aggregateJob struct{ svc *MaintenanceService }

func (j *aggregateJob) Name() string { return "maintenance-aggregate" }
func (j *aggregateJob) Type() string { return TaskAggregate }

func (j *aggregateJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[AggregatePayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	if p.MonitorID == "" {
		_, err = j.svc.AggregateClosed(ctx)
		return err
	}
	_, err = j.svc.Backfill(ctx, p.MonitorID, p.Start, p.End, p.Periods)
	return taskError(err)
}

type retentionJob struct {
	svc         *MaintenanceService
	defaultDays int
}

func (j *retentionJob) Name() string { return "maintenance-retention" }
func (j *retentionJob) Type() string { return TaskRetention }

func (j *retentionJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetentionPayload](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	days := p.OlderThanDays
	if days <= 0 {
		days = j.defaultDays
	}
	_, err = j.svc.Retention(ctx, days, p.DryRun)
	return taskError(err)
}

type retrainJob struct{ svc *MaintenanceService }

func (j *retrainJob) Name() string { return "maintenance-retrain" }
func (j *retrainJob) Type() string { return TaskRetrain }

func (j *retrainJob) Handle(ctx context.Context, _ interface{}) error {
	_, err := j.svc.Retrain(ctx)
	return err
}

// RegisterJobs wires every task type to its handler.
func RegisterJobs(q queue.Queue, check *CheckService, delivery *DeliveryService, maint *MaintenanceService, retentionDays int) {
	q.RegisterJob(&checkJob{svc: check})
	q.RegisterJob(&deliverJob{svc: delivery})
	q.RegisterJob(&aggregateJob{svc: maint})
	q.RegisterJob(&retentionJob{svc: maint, defaultDays: retentionDays})
	q.RegisterJob(&retrainJob{svc: maint})
}
