package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/cache"
	"IntelWatch/pkg/compression"
	"IntelWatch/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, backend repository.SnapshotBackend, opts ...SnapshotStoreOption) *SnapshotStore {
	t.Helper()
	opts = append([]SnapshotStoreOption{WithBatching(50, 0)}, opts...)
	s, err := NewSnapshotStore(backend, nil, metrics.Nop{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func snap(id string, ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		ID:        id,
		MonitorID: "m1",
		Timestamp: ts,
		Metrics:   map[string]float64{"revenue": 100},
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	store := newTestStore(t, NewMemorySnapshotBackend(), WithFieldCompression(compression.AlgorithmZstd, 64))
	ctx := context.Background()

	sentiment := 0.42
	big := strings.Repeat("pricing pressure from low-cost entrants ", 50)
	full := &models.Snapshot{
		ID:                "s1",
		MonitorID:         "m1",
		Timestamp:         t0,
		Metrics:           map[string]float64{"revenue": 120.5, "margin": 0.31},
		MarketTrends:      []string{"ai", "cloud"},
		CompetitiveForces: map[string]string{"rivalry": big, "buyers": "concentrated"},
		StrategicPosition: map[string]any{"moat": "brand", "score": 7.5},
		Sentiment:         &sentiment,
	}
	empty := &models.Snapshot{ID: "s2", MonitorID: "m1", Timestamp: t0.Add(time.Hour)}

	require.NoError(t, store.Put(ctx, full))
	require.NoError(t, store.Put(ctx, empty))

	got, err := store.GetRange(ctx, "m1", t0, t0.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, full.Metrics, got[0].Metrics)
	assert.Equal(t, full.MarketTrends, got[0].MarketTrends)
	assert.Equal(t, full.CompetitiveForces, got[0].CompetitiveForces)
	assert.Equal(t, full.StrategicPosition, got[0].StrategicPosition)
	require.NotNil(t, got[0].Sentiment)
	assert.Equal(t, sentiment, *got[0].Sentiment)

	assert.Empty(t, got[1].CompetitiveForces)
	assert.Empty(t, got[1].StrategicPosition)
	assert.Nil(t, got[1].Sentiment)
}

func TestSnapshotLargeFieldIsCompressedAtRest(t *testing.T) {
	backend := NewMemorySnapshotBackend()
	store := newTestStore(t, backend, WithFieldCompression(compression.AlgorithmLZ4, 128))
	ctx := context.Background()

	s := snap("s1", t0)
	s.CompetitiveForces = map[string]string{"rivalry": strings.Repeat("intense ", 200), "short": "x"}
	require.NoError(t, store.Put(ctx, s))
	require.NoError(t, store.Flush(ctx))

	row, err := backend.Latest(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, compression.IsCompressed(row.CompetitiveForces))
	assert.False(t, compression.IsCompressed(row.StrategicPosition))
}

func TestSnapshotCorruptFieldDegradesToEmpty(t *testing.T) {
	backend := NewMemorySnapshotBackend()
	store := newTestStore(t, backend)
	ctx := context.Background()

	require.NoError(t, backend.InsertBatch(ctx, []repository.SnapshotRow{{
		ID:                "bad",
		MonitorID:         "m1",
		Timestamp:         t0,
		Metrics:           map[string]float64{"revenue": 1},
		CompetitiveForces: []byte{0x7f, 0x01, 0x02},
		StrategicPosition: []byte{0x01, 0xde, 0xad},
	}}))

	got, err := store.GetLatest(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.CompetitiveForces)
	assert.Empty(t, got.StrategicPosition)
	assert.Equal(t, 1.0, got.Metrics["revenue"])
}

func TestSnapshotBatchingAndReadYourWrites(t *testing.T) {
	backend := NewMemorySnapshotBackend()
	store := newTestStore(t, backend, WithBatching(3, 0))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, snap("a", t0)))
	require.NoError(t, store.Put(ctx, snap("b", t0.Add(time.Hour))))
	assert.Equal(t, 2, store.Pending())

	raw, _ := backend.Range(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	assert.Empty(t, raw, "rows stay buffered below the batch size")

	latest, err := store.GetLatest(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.ID)
	assert.Zero(t, store.Pending())

	for i, id := range []string{"c", "d", "e"} {
		require.NoError(t, store.Put(ctx, snap(id, t0.Add(time.Duration(2+i)*time.Hour))))
	}
	assert.Zero(t, store.Pending(), "a full batch flushes on Put")
}

func TestSnapshotRangeIsHalfOpenAndLimitKeepsNewest(t *testing.T) {
	store := newTestStore(t, NewMemorySnapshotBackend())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, snap(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Hour))))
	}

	got, err := store.GetRange(ctx, "m1", t0, t0.Add(4*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[3].ID)

	got, err = store.GetRange(ctx, "m1", t0, t0.Add(5*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "e", got[1].ID)
}

func TestSnapshotRangeCacheInvalidatedOnWrite(t *testing.T) {
	store := newTestStore(t, NewMemorySnapshotBackend())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, snap("a", t0)))

	got, err := store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, store.Put(ctx, snap("b", t0.Add(time.Hour))))
	got, err = store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err := store.DeleteBefore(ctx, "m1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

// racingBackend runs afterRange once, between loading a range and returning it.
type racingBackend struct {
	*MemorySnapshotBackend
	afterRange func()
}

func (b *racingBackend) Range(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]repository.SnapshotRow, error) {
	rows, err := b.MemorySnapshotBackend.Range(ctx, monitorID, start, end, limit)
	if fn := b.afterRange; fn != nil {
		b.afterRange = nil
		fn()
	}
	return rows, err
}

func TestSnapshotRangeLoadedBeforeWriteIsNotCached(t *testing.T) {
	backend := &racingBackend{MemorySnapshotBackend: NewMemorySnapshotBackend()}
	store := newTestStore(t, backend)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, snap("a", t0)))

	backend.afterRange = func() {
		require.NoError(t, store.Put(ctx, snap("b", t0.Add(time.Hour))))
		require.NoError(t, store.Flush(ctx))
	}
	got, err := store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSnapshotFlushInvalidatesRange(t *testing.T) {
	store := newTestStore(t, NewMemorySnapshotBackend())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, snap("a", t0)))

	_, err := store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)

	// a cache entry written after Put's own invalidation is dropped by the flush
	key := cache.GenerateKeyWithParams("m1", t0.UnixNano(), t0.Add(24*time.Hour).UnixNano(), 0)
	require.NoError(t, store.Put(ctx, snap("b", t0.Add(time.Hour))))
	store.cache.Add(key, []models.Snapshot{*snap("a", t0)})
	require.NoError(t, store.Flush(ctx))

	got, err := store.GetRange(ctx, "m1", t0, t0.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSnapshotGetNear(t *testing.T) {
	store := newTestStore(t, NewMemorySnapshotBackend())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, snap("early", t0.Add(-time.Hour))))
	require.NoError(t, store.Put(ctx, snap("late", t0.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, snap("far", t0.Add(10*time.Hour))))

	got, err := store.GetNear(ctx, "m1", t0, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "early", got.ID, "ties go to the earlier snapshot")

	got, err = store.GetNear(ctx, "m1", t0.Add(50*time.Minute), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "late", got.ID)

	got, err = store.GetNear(ctx, "m1", t0.Add(5*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type failingBackend struct {
	*MemorySnapshotBackend
	fail bool
}

func (b *failingBackend) InsertBatch(ctx context.Context, rows []repository.SnapshotRow) error {
	if b.fail {
		return errors.New("clickhouse unavailable")
	}
	return b.MemorySnapshotBackend.InsertBatch(ctx, rows)
}

func TestSnapshotFlushFailureKeepsRows(t *testing.T) {
	backend := &failingBackend{MemorySnapshotBackend: NewMemorySnapshotBackend(), fail: true}
	store := newTestStore(t, backend)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, snap("a", t0)))
	_, err := store.GetLatest(ctx, "m1")
	require.Error(t, err)
	assert.Equal(t, 1, store.Pending())

	backend.fail = false
	got, err := store.GetLatest(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
}
