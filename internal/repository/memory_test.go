package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(id, owner, subject string, status models.MonitorStatus) *models.Monitor {
	return &models.Monitor{
		ID:          id,
		OwnerID:     owner,
		Subject:     subject,
		Status:      status,
		Config:      models.MonitorConfig{Frequency: models.FrequencyDaily, ConfidenceThreshold: 0.7},
		CreatedAt:   t0,
		UpdatedAt:   t0,
		NextCheckAt: t0,
	}
}

func TestMonitorRepositoryActiveUniqueness(t *testing.T) {
	repo := NewMemoryMonitorRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newMonitor("m1", "u1", "Acme", models.StatusActive)))

	err := repo.Create(ctx, newMonitor("m2", "u1", "Acme", models.StatusActive))
	assert.True(t, errors.Is(err, repository.ErrDuplicateActive))

	// another owner, or a paused twin, is fine
	require.NoError(t, repo.Create(ctx, newMonitor("m3", "u2", "Acme", models.StatusActive)))
	require.NoError(t, repo.Create(ctx, newMonitor("m4", "u1", "Acme", models.StatusPaused)))

	// resuming the paused twin collides with m1
	m4, err := repo.Get(ctx, "m4")
	require.NoError(t, err)
	require.NoError(t, m4.TransitionTo(models.StatusActive, t0))
	assert.ErrorIs(t, repo.Update(ctx, m4), repository.ErrDuplicateActive)

	m1, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, m1.TransitionTo(models.StatusDeleted, t0))
	require.NoError(t, repo.Update(ctx, m1))
	assert.NoError(t, repo.Update(ctx, m4))
}

func TestMonitorRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryMonitorRepository()
	ctx := context.Background()
	m := newMonitor("m1", "u1", "Acme", models.StatusActive)
	m.Config.TrackedMetrics = []string{"revenue"}
	require.NoError(t, repo.Create(ctx, m))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	got.Subject = "changed"
	got.Config.TrackedMetrics[0] = "changed"

	again, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", again.Subject)
	assert.Equal(t, []string{"revenue"}, again.Config.TrackedMetrics)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMonitorRepositoryListDue(t *testing.T) {
	repo := NewMemoryMonitorRepository()
	ctx := context.Background()

	late := newMonitor("late", "u1", "A", models.StatusActive)
	late.NextCheckAt = t0.Add(-2 * time.Hour)
	soon := newMonitor("soon", "u1", "B", models.StatusActive)
	soon.NextCheckAt = t0.Add(-time.Hour)
	future := newMonitor("future", "u1", "C", models.StatusActive)
	future.NextCheckAt = t0.Add(time.Hour)
	paused := newMonitor("paused", "u1", "D", models.StatusPaused)
	paused.NextCheckAt = t0.Add(-3 * time.Hour)
	for _, m := range []*models.Monitor{late, soon, future, paused} {
		require.NoError(t, repo.Create(ctx, m))
	}

	due, err := repo.ListDue(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "late", due[0].ID)
	assert.Equal(t, "soon", due[1].ID)

	due, err = repo.ListDue(ctx, t0, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	counts, err := repo.CountByStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusActive])
	assert.Equal(t, 1, counts[models.StatusPaused])
	assert.Equal(t, 0, counts[models.StatusError])
}

func TestMonitorRepositoryRecordCheckKeepsStatus(t *testing.T) {
	repo := NewMemoryMonitorRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newMonitor("m1", "u1", "Acme", models.StatusActive)))

	// a check loaded m1 while active, then the owner deleted it
	checked, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	stored, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, stored.TransitionTo(models.StatusDeleted, t0))
	require.NoError(t, repo.Update(ctx, stored))

	for i := 0; i < models.MaxConsecutiveErrors; i++ {
		checked.RecordFailure(t0.Add(time.Hour), errors.New("timeout"))
	}
	require.Equal(t, models.StatusError, checked.Status)
	require.NoError(t, repo.RecordCheck(ctx, checked))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.Equal(t, models.MaxConsecutiveErrors, got.ErrorCount)
	assert.Equal(t, "timeout", got.LastError)
	assert.Equal(t, t0.Add(25*time.Hour), got.NextCheckAt)

	// an active row does take the error transition
	require.NoError(t, repo.Create(ctx, newMonitor("m2", "u1", "Beta", models.StatusActive)))
	m2, err := repo.Get(ctx, "m2")
	require.NoError(t, err)
	for i := 0; i < models.MaxConsecutiveErrors; i++ {
		m2.RecordFailure(t0, errors.New("timeout"))
	}
	require.NoError(t, repo.RecordCheck(ctx, m2))
	got, err = repo.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)

	assert.ErrorIs(t, repo.RecordCheck(ctx, newMonitor("missing", "u1", "X", models.StatusActive)), repository.ErrNotFound)
}

func TestAlertRepositoryHistoryAndStats(t *testing.T) {
	repo := NewMemoryAlertRepository()
	ctx := context.Background()

	alerts := []*models.Alert{
		{ID: "a1", MonitorID: "m1", Confidence: 0.8, Fingerprint: "fp", CreatedAt: t0.Add(-48 * time.Hour)},
		{ID: "a2", MonitorID: "m1", Confidence: 0.9, Fingerprint: "fp", CreatedAt: t0.Add(-time.Hour)},
		{ID: "a3", MonitorID: "m1", Confidence: 0.7, Fingerprint: "other", CreatedAt: t0.Add(-30 * time.Minute)},
		{ID: "a4", MonitorID: "m2", Confidence: 0.5, Fingerprint: "fp", CreatedAt: t0},
	}
	for _, a := range alerts {
		require.NoError(t, repo.Create(ctx, a))
	}
	require.NoError(t, repo.MarkRead(ctx, "a3"))

	h, err := repo.History(ctx, "m1", "fp", t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, h.RecentAlerts)
	assert.Equal(t, 1, h.SimilarAlerts)
	require.NotNil(t, h.LastAlertAt)
	assert.Equal(t, t0.Add(-30*time.Minute), *h.LastAlertAt)

	st, err := repo.Stats(ctx, []string{"m1"}, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Unread)
	assert.Equal(t, 2, st.Recent)
	assert.InDelta(t, 0.8, st.AvgConfidence, 1e-9)

	list, err := repo.List(ctx, models.AlertFilter{MonitorID: "m1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID, "newest first")

	assert.ErrorIs(t, repo.MarkRead(ctx, "missing"), repository.ErrNotFound)
}

func TestAggregationRepositoryUpsertAndRetention(t *testing.T) {
	repo := NewMemoryAggregationRepository()
	ctx := context.Background()

	start, end := models.PeriodDaily.Window(t0)
	agg := &models.Aggregation{MonitorID: "m1", Period: models.PeriodDaily, Start: start, End: end, SnapshotCount: 1}
	require.NoError(t, repo.Upsert(ctx, agg))
	agg2 := *agg
	agg2.SnapshotCount = 4
	require.NoError(t, repo.Upsert(ctx, &agg2))

	got, err := repo.Get(ctx, "m1", models.PeriodDaily, start)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.SnapshotCount)

	n, err := repo.CountBefore(ctx, "m1", end)
	require.NoError(t, err)
	assert.Zero(t, n, "a window ending exactly at the cutoff is kept")

	n, err = repo.DeleteBefore(ctx, "m1", end.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
