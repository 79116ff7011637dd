package usecase

import (
	"context"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppliesDefaultsAndCapturesBaseline(t *testing.T) {
	f := newFixture(t)
	f.engine.push(revenue(100))

	m := f.create(t, " owner-1 ", " Acme ")

	assert.Equal(t, "owner-1", m.OwnerID)
	assert.Equal(t, "Acme", m.Subject)
	assert.Equal(t, models.StatusActive, m.Status)
	assert.Equal(t, models.FrequencyDaily, m.Config.Frequency)
	assert.Equal(t, 0.7, m.Config.ConfidenceThreshold)
	assert.Equal(t, models.DepthStandard, m.Config.Depth)
	assert.Equal(t, base.Add(24*time.Hour), m.NextCheckAt)
	require.NotNil(t, m.LastCheckedAt)
	assert.Zero(t, m.ErrorCount)

	snap, err := f.snapshots.GetLatest(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 100.0, snap.Metrics["revenue"])
}

func TestCreateRecordsBaselineFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.fail(errUpstream)

	m := f.create(t, "owner-1", "Acme")
	assert.Equal(t, 1, m.ErrorCount)
	assert.Contains(t, m.LastError, errUpstream.Error())
	assert.Nil(t, m.LastCheckedAt)

	stored, err := f.monitors.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, 1, stored.ErrorCount)
}

func TestCreateRejectsDuplicateActiveMonitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "owner-1", "Acme")

	_, err := f.svc.Create(ctx, models.CreateMonitorRequest{OwnerID: "owner-1", Subject: "Acme"})
	assert.ErrorIs(t, err, domrepo.ErrDuplicateActive)

	_, err = f.svc.Create(ctx, models.CreateMonitorRequest{OwnerID: "owner-2", Subject: "Acme"})
	assert.NoError(t, err)

	_, err = f.svc.Pause(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, models.CreateMonitorRequest{OwnerID: "owner-1", Subject: "Acme"})
	assert.NoError(t, err)

	_, err = f.svc.Resume(ctx, first.ID)
	assert.ErrorIs(t, err, domrepo.ErrDuplicateActive)
}

func TestCreateValidatesConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]models.CreateMonitorRequest{
		"missing subject":    {OwnerID: "o"},
		"bad frequency":      {OwnerID: "o", Subject: "s", Config: models.MonitorConfig{Frequency: "yearly"}},
		"threshold too high": {OwnerID: "o", Subject: "s", Config: models.MonitorConfig{ConfidenceThreshold: 1.5}},
		"bad channel":        {OwnerID: "o", Subject: "s", Config: models.MonitorConfig{Channels: []models.Channel{"fax"}}},
		"undated event":      {OwnerID: "o", Subject: "s", Config: models.MonitorConfig{KnownEvents: []models.KnownEvent{{Kind: "earnings"}}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, req)
			assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	_, err := f.svc.Resume(ctx, m.ID)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)
	_, err = f.svc.Reactivate(ctx, m.ID)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)

	paused, err := f.svc.Pause(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, paused.Status)

	f.clock.Advance(48 * time.Hour)
	resumed, err := f.svc.Resume(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, resumed.Status)
	assert.Equal(t, f.clock.Now(), resumed.NextCheckAt)

	deleted, err := f.svc.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, deleted.Status)

	_, err = f.svc.Resume(ctx, m.ID)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)
	_, err = f.svc.Delete(ctx, m.ID)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)
}

func TestReactivateClearsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	stored, err := f.monitors.Get(ctx, m.ID)
	require.NoError(t, err)
	stored.Status = models.StatusError
	stored.ErrorCount = models.MaxConsecutiveErrors
	stored.LastError = "boom"
	require.NoError(t, f.monitors.Update(ctx, stored))

	_, err = f.svc.Pause(ctx, m.ID)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)

	got, err := f.svc.Reactivate(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Zero(t, got.ErrorCount)
	assert.Empty(t, got.LastError)
	assert.Equal(t, f.clock.Now(), got.NextCheckAt)
}

func TestUpdateMonitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	subject := "Acme Corp"
	cfg := models.MonitorConfig{Frequency: models.FrequencyHourly, TrackedMetrics: []string{"revenue", " revenue ", ""}}
	got, err := f.svc.Update(ctx, models.UpdateMonitorRequest{ID: m.ID, Subject: &subject, Config: &cfg})
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", got.Subject)
	assert.Equal(t, models.FrequencyHourly, got.Config.Frequency)
	assert.Equal(t, []string{"revenue"}, got.Config.TrackedMetrics)
	assert.Equal(t, 0.7, got.Config.ConfidenceThreshold)
	assert.Equal(t, m.LastCheckedAt.Add(time.Hour), got.NextCheckAt)

	empty := "  "
	_, err = f.svc.Update(ctx, models.UpdateMonitorRequest{ID: m.ID, Subject: &empty})
	assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)

	_, err = f.svc.Delete(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, models.UpdateMonitorRequest{ID: m.ID, Subject: &subject})
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition)
}

func TestForceCheckQueuesActiveMonitorsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	require.NoError(t, f.svc.ForceCheck(ctx, m.ID))
	checks := f.queue.ofType(TaskMonitorCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, CheckPayload{MonitorID: m.ID}, checks[0].payload)

	_, err := f.svc.Pause(ctx, m.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.ForceCheck(ctx, m.ID), domrepo.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.ForceCheck(ctx, "missing"), domrepo.ErrNotFound)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.push(revenue(100), revenue(80))
	m := f.create(t, "owner-1", "Acme")
	other := f.create(t, "owner-1", "Globex")
	_, err := f.svc.Pause(ctx, other.ID)
	require.NoError(t, err)
	f.create(t, "owner-2", "Initech")

	f.clock.Advance(time.Hour)
	res, err := f.check.CheckForUpdates(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Alert)

	stats, err := f.svc.DashboardStats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Monitors[models.StatusActive])
	assert.Equal(t, 1, stats.Monitors[models.StatusPaused])
	assert.Equal(t, 1, stats.TotalAlerts)
	assert.Equal(t, 1, stats.UnreadAlerts)

	require.NoError(t, f.svc.MarkAlertRead(ctx, res.Alert.ID))
	stats, err = f.svc.DashboardStats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Zero(t, stats.UnreadAlerts)

	none, err := f.svc.DashboardStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, none.TotalAlerts)
}

func TestAlertReadAndFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.push(revenue(100), revenue(80))
	m := f.create(t, "owner-1", "Acme")
	f.clock.Advance(time.Hour)
	res, err := f.check.CheckForUpdates(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Alert)

	unread, err := f.svc.ListAlerts(ctx, m.ID, true, 10)
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	require.NoError(t, f.svc.MarkAlertRead(ctx, res.Alert.ID))
	unread, err = f.svc.ListAlerts(ctx, m.ID, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	assert.ErrorIs(t, f.svc.AlertFeedback(ctx, res.Alert.ID, "  "), domrepo.ErrInvalidConfig)
	require.NoError(t, f.svc.AlertFeedback(ctx, res.Alert.ID, "useful"))
	stored, err := f.alerts.Get(ctx, res.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Feedback)
	assert.Equal(t, "useful", *stored.Feedback)

	_, err = f.svc.ListAlerts(ctx, "missing", false, 10)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
	assert.ErrorIs(t, f.svc.MarkAlertRead(ctx, "missing"), domrepo.ErrNotFound)
}

func TestSnapshotsRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.push(revenue(100), revenue(101), revenue(102))
	m := f.create(t, "owner-1", "Acme")
	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		_, err := f.check.CheckForUpdates(ctx, m.ID)
		require.NoError(t, err)
	}

	all, err := f.svc.Snapshots(ctx, m.ID, base, time.Time{}, 0)
	require.NoError(t, err)
	// The range end is exclusive, so the snapshot taken at "now" is left out.
	assert.Len(t, all, 2)

	all, err = f.svc.Snapshots(ctx, m.ID, base, f.clock.Now().Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 102.0, all[2].Metrics["revenue"])

	_, err = f.svc.Snapshots(ctx, m.ID, f.clock.Now(), base, 0)
	assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)
}
