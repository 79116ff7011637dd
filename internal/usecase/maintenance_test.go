package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	domrepo "IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putSnapshot(t *testing.T, f *fixture, monitorID string, ts time.Time, rev float64) {
	t.Helper()
	require.NoError(t, f.snapshots.Put(context.Background(), &models.Snapshot{
		ID:        fmt.Sprintf("%s-%d", monitorID, ts.Unix()),
		MonitorID: monitorID,
		Timestamp: ts,
		Metrics:   map[string]float64{"revenue": rev},
	}))
}

func TestRetentionDryRunThenDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	old := util.StartOfDay(base.AddDate(0, 0, -400))
	putSnapshot(t, f, m.ID, old.Add(time.Hour), 10)
	putSnapshot(t, f, m.ID, base.AddDate(0, 0, -380), 11)
	counts, err := f.maint.Backfill(ctx, m.ID, old, old.Add(24*time.Hour), []models.Period{models.PeriodDaily})
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.PeriodDaily])

	report, err := f.maint.Retention(ctx, 365, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Monitors)
	assert.Equal(t, int64(2), report.Snapshots)
	assert.Equal(t, int64(1), report.Aggregations)

	report, err = f.maint.Retention(ctx, 365, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Snapshots)
	assert.Equal(t, int64(1), report.Aggregations)

	report, err = f.maint.Retention(ctx, 365, true)
	require.NoError(t, err)
	assert.Zero(t, report.Snapshots)
	assert.Zero(t, report.Aggregations)

	latest, err := f.snapshots.GetLatest(ctx, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, latest, "baseline inside the retention window survives")

	_, err = f.maint.Retention(ctx, 0, true)
	assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)
}

func TestRetentionCoversDeletedMonitors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")
	putSnapshot(t, f, m.ID, base.AddDate(-2, 0, 0), 10)
	_, err := f.svc.Delete(ctx, m.ID)
	require.NoError(t, err)

	report, err := f.maint.Retention(ctx, 365, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Snapshots)
}

func TestBackfillValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	_, err := f.maint.Backfill(ctx, m.ID, base, base, nil)
	assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)

	_, err = f.maint.Backfill(ctx, "missing", base.Add(-time.Hour), base, nil)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	counts, err := f.maint.Backfill(ctx, m.ID, base.AddDate(0, 0, -3), base, nil)
	require.NoError(t, err)
	assert.Len(t, counts, len(models.AllPeriods))
}

func TestAggregateClosedStoresFinishedWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "owner-1", "Acme")

	// base is Monday 2025-03-03; Sunday belongs to the week that just closed.
	putSnapshot(t, f, m.ID, time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC), 10)
	putSnapshot(t, f, m.ID, time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), 12)

	stored, err := f.maint.AggregateClosed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	agg, err := f.svc.Aggregation(ctx, m.ID, models.PeriodDaily, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 2, agg.SnapshotCount)
	assert.Equal(t, 11.0, agg.Metrics["revenue"].Mean)
}

func TestRetrainFitsMonitorsWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withHistory := f.create(t, "owner-1", "Acme")
	f.create(t, "owner-1", "Globex")

	for i := 1; i <= 20; i++ {
		putSnapshot(t, f, withHistory.ID, base.AddDate(0, 0, -i), 100+float64(i%3))
	}

	n, err := f.maint.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.detectors.Get(withHistory.ID).Fitted("revenue"))
}

func TestDeadLettersRejectsUnknownLane(t *testing.T) {
	f := newFixture(t)
	_, err := f.maint.DeadLetters(context.Background(), "urgent", 10)
	assert.ErrorIs(t, err, domrepo.ErrInvalidConfig)

	msgs, err := f.maint.DeadLetters(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
