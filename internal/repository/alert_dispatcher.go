package repository

import (
	"context"
	"fmt"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/service"
	"IntelWatch/pkg/logger"
)

// AlertPublisher is the slice of the Kafka producer the dispatcher needs.
type AlertPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// AlertEnvelope is the message handed to the notification transport.
type AlertEnvelope struct {
	Alert     *models.Alert    `json:"alert"`
	Channels  []models.Channel `json:"channels"`
	MonitorID string           `json:"monitor_id"`
	OwnerID   string           `json:"owner_id"`
}

// KafkaAlertDispatcher publishes alert envelopes keyed by monitor id so every
// alert of one monitor lands on the same partition.
type KafkaAlertDispatcher struct {
	pub   AlertPublisher
	topic string
	log   *logger.Logger
}

func NewKafkaAlertDispatcher(pub AlertPublisher, topic string, lgr *logger.Logger) *KafkaAlertDispatcher {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &KafkaAlertDispatcher{pub: pub, topic: topic, log: lgr.With(logger.String("component", "alert_dispatcher"))}
}

func (d *KafkaAlertDispatcher) Dispatch(ctx context.Context, alert *models.Alert, monitor *models.Monitor) error {
	if alert == nil || monitor == nil {
		return fmt.Errorf("dispatch: alert and monitor are required")
	}
	env := AlertEnvelope{
		Alert:     alert,
		Channels:  monitor.Config.Channels,
		MonitorID: monitor.ID,
		OwnerID:   monitor.OwnerID,
	}
	if err := d.pub.Publish(ctx, d.topic, []byte(monitor.ID), env); err != nil {
		return fmt.Errorf("dispatch alert %s: %w", alert.ID, err)
	}
	d.log.Debug("alert dispatched",
		logger.String("alert_id", alert.ID),
		logger.String("monitor_id", monitor.ID),
		logger.Int("channels", len(env.Channels)),
	)
	return nil
}

// LogAlertDispatcher only logs. It stands in for the transport when Kafka is
// disabled.
type LogAlertDispatcher struct {
	log *logger.Logger
}

func NewLogAlertDispatcher(lgr *logger.Logger) *LogAlertDispatcher {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &LogAlertDispatcher{log: lgr.With(logger.String("component", "alert_dispatcher"))}
}

func (d *LogAlertDispatcher) Dispatch(_ context.Context, alert *models.Alert, monitor *models.Monitor) error {
	urgency := ""
	if alert.Priority != nil {
		urgency = string(alert.Priority.Urgency)
	}
	d.log.Info("alert ready for delivery",
		logger.String("alert_id", alert.ID),
		logger.String("monitor_id", monitor.ID),
		logger.String("owner_id", monitor.OwnerID),
		logger.String("urgency", urgency),
		logger.String("title", alert.Title),
	)
	return nil
}

var (
	_ service.AlertDispatcher = (*KafkaAlertDispatcher)(nil)
	_ service.AlertDispatcher = (*LogAlertDispatcher)(nil)
)
