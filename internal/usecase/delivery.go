package usecase

import (
	"context"
	"fmt"

	domrepo "IntelWatch/internal/domain/repository"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/pkg/logger"
)

// DeliveryService hands persisted alerts to the notification transport.
type DeliveryService struct {
	alerts     domrepo.AlertRepository
	monitors   domrepo.MonitorRepository
	dispatcher domsvc.AlertDispatcher
	log        *logger.Logger
}

func NewDeliveryService(alerts domrepo.AlertRepository, monitors domrepo.MonitorRepository, dispatcher domsvc.AlertDispatcher, lgr *logger.Logger) *DeliveryService {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &DeliveryService{
		alerts:     alerts,
		monitors:   monitors,
		dispatcher: dispatcher,
		log:        lgr.With(logger.String("component", "delivery")),
	}
}

func (d *DeliveryService) Deliver(ctx context.Context, alertID string) error {
	alert, err := d.alerts.Get(ctx, alertID)
	if err != nil {
		return fmt.Errorf("load alert %s: %w", alertID, err)
	}
	m, err := d.monitors.Get(ctx, alert.MonitorID)
	if err != nil {
		return fmt.Errorf("load monitor %s: %w", alert.MonitorID, err)
	}
	if err := d.dispatcher.Dispatch(ctx, alert, m); err != nil {
		return fmt.Errorf("dispatch alert %s: %w", alertID, err)
	}
	d.log.Debug("alert dispatched",
		logger.String("alert_id", alertID),
		logger.String("monitor_id", m.ID),
		logger.Int("channels", len(m.Config.Channels)),
	)
	return nil
}
