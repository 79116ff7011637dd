package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	alerts  []string
	owners  []string
	failing error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, alert *models.Alert, m *models.Monitor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing != nil {
		return d.failing
	}
	d.alerts = append(d.alerts, alert.ID)
	d.owners = append(d.owners, m.OwnerID)
	return nil
}

func persistedAlert(t *testing.T, f *fixture) *models.Alert {
	t.Helper()
	f.engine.push(revenue(100), revenue(80))
	m := f.create(t, "owner-1", "Acme")
	f.clock.Advance(time.Hour)
	res, err := f.check.CheckForUpdates(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Alert)
	return res.Alert
}

func TestDeliverDispatchesWithMonitor(t *testing.T) {
	f := newFixture(t)
	alert := persistedAlert(t, f)

	d := &recordingDispatcher{}
	svc := NewDeliveryService(f.alerts, f.monitors, d, nil)
	require.NoError(t, svc.Deliver(context.Background(), alert.ID))

	assert.Equal(t, []string{alert.ID}, d.alerts)
	assert.Equal(t, []string{"owner-1"}, d.owners)
}

func TestDeliverErrors(t *testing.T) {
	f := newFixture(t)
	alert := persistedAlert(t, f)

	svc := NewDeliveryService(f.alerts, f.monitors, &recordingDispatcher{}, nil)
	assert.ErrorIs(t, svc.Deliver(context.Background(), "missing"), domrepo.ErrNotFound)

	boom := errors.New("broker down")
	svc = NewDeliveryService(f.alerts, f.monitors, &recordingDispatcher{failing: boom}, nil)
	assert.ErrorIs(t, svc.Deliver(context.Background(), alert.ID), boom)
}

func TestDeliverWithLogDispatcher(t *testing.T) {
	f := newFixture(t)
	alert := persistedAlert(t, f)

	svc := NewDeliveryService(f.alerts, f.monitors, repository.NewLogAlertDispatcher(nil), nil)
	assert.NoError(t, svc.Deliver(context.Background(), alert.ID))
}
