package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/cache"
	"IntelWatch/pkg/compression"
	"IntelWatch/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotStoreConfig tunes batching, the range cache and field compression.
type SnapshotStoreConfig struct {
	BatchSize            int
	FlushInterval        time.Duration
	CacheTTL             time.Duration
	CacheSize            int
	CompressionThreshold int
	Compression          compression.Algorithm
}

type SnapshotStoreOption func(*SnapshotStoreConfig)

func WithBatching(size int, interval time.Duration) SnapshotStoreOption {
	return func(c *SnapshotStoreConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		c.FlushInterval = interval
	}
}

func WithRangeCache(size int, ttl time.Duration) SnapshotStoreOption {
	return func(c *SnapshotStoreConfig) {
		if size > 0 {
			c.CacheSize = size
		}
		if ttl > 0 {
			c.CacheTTL = ttl
		}
	}
}

func WithFieldCompression(alg compression.Algorithm, threshold int) SnapshotStoreOption {
	return func(c *SnapshotStoreConfig) {
		c.Compression = alg
		if threshold > 0 {
			c.CompressionThreshold = threshold
		}
	}
}

// SnapshotStore buffers writes, encodes large text fields and caches range
// reads in front of a SnapshotBackend. Every read flushes the buffer first so
// callers always see their own writes.
type SnapshotStore struct {
	backend repository.SnapshotBackend
	codec   *compression.Codec
	cfg     SnapshotStoreConfig
	log     *logger.Logger
	metrics repository.Metrics

	mu      sync.Mutex
	buf     []repository.SnapshotRow
	flushMu sync.Mutex

	cache *expirable.LRU[string, []models.Snapshot]
	genMu sync.Mutex
	gens  map[string]uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSnapshotStore(backend repository.SnapshotBackend, lgr *logger.Logger, metrics repository.Metrics, opts ...SnapshotStoreOption) (*SnapshotStore, error) {
	cfg := SnapshotStoreConfig{
		BatchSize:            50,
		FlushInterval:        2 * time.Second,
		CacheTTL:             5 * time.Minute,
		CacheSize:            512,
		CompressionThreshold: 1024,
		Compression:          compression.AlgorithmZstd,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	comp, err := compression.New(cfg.Compression, compression.LevelDefault)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	s := &SnapshotStore{
		backend: backend,
		codec:   compression.NewCodec(comp, cfg.CompressionThreshold),
		cfg:     cfg,
		log:     lgr.With(logger.String("component", "snapshot_store")),
		metrics: metrics,
		buf:     make([]repository.SnapshotRow, 0, cfg.BatchSize),
		cache:   expirable.NewLRU[string, []models.Snapshot](cfg.CacheSize, nil, cfg.CacheTTL),
		gens:    make(map[string]uint64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		go s.flushLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *SnapshotStore) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				s.log.Warn("periodic snapshot flush failed", logger.Error(err))
			}
		}
	}
}

// Put buffers a snapshot and flushes once the batch is full.
func (s *SnapshotStore) Put(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil || snap.ID == "" || snap.MonitorID == "" || snap.Timestamp.IsZero() {
		return fmt.Errorf("snapshot store: id, monitor id and timestamp are required")
	}
	row := s.encode(snap)

	s.mu.Lock()
	s.buf = append(s.buf, row)
	full := len(s.buf) >= s.cfg.BatchSize
	s.mu.Unlock()

	s.invalidate(snap.MonitorID)

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered row in one backend batch. On failure the rows
// go back to the front of the buffer.
func (s *SnapshotStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	rows := s.buf
	s.buf = make([]repository.SnapshotRow, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	start := time.Now()
	if err := s.backend.InsertBatch(ctx, rows); err != nil {
		s.mu.Lock()
		s.buf = append(rows, s.buf...)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordError("snapshot_flush")
		}
		return fmt.Errorf("flush %d snapshots: %w", len(rows), err)
	}
	flushed := make(map[string]struct{})
	for _, r := range rows {
		if _, ok := flushed[r.MonitorID]; !ok {
			flushed[r.MonitorID] = struct{}{}
			s.invalidate(r.MonitorID)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("snapshot_flush", time.Since(start).Seconds())
	}
	return nil
}

// Pending returns the number of buffered, unflushed snapshots.
func (s *SnapshotStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *SnapshotStore) GetRange(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]models.Snapshot, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	key := cache.GenerateKeyWithParams(monitorID, start.UTC().UnixNano(), end.UTC().UnixNano(), limit)
	if cached, ok := s.cache.Get(key); ok {
		return append([]models.Snapshot(nil), cached...), nil
	}

	gen := s.generation(monitorID)
	rows, err := s.backend.Range(ctx, monitorID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	out := s.decodeAll(rows)
	s.cacheIfCurrent(monitorID, gen, key, out)
	return append([]models.Snapshot(nil), out...), nil
}

func (s *SnapshotStore) GetLatest(ctx context.Context, monitorID string) (*models.Snapshot, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	row, err := s.backend.Latest(ctx, monitorID)
	if err != nil {
		return nil, fmt.Errorf("get latest: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	snap := s.decode(*row)
	return &snap, nil
}

// GetNear returns the snapshot closest to t within tolerance, the earlier one
// on a tie, or nil when none qualifies.
func (s *SnapshotStore) GetNear(ctx context.Context, monitorID string, t time.Time, tolerance time.Duration) (*models.Snapshot, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.backend.Between(ctx, monitorID, t.Add(-tolerance), t.Add(tolerance))
	if err != nil {
		return nil, fmt.Errorf("get near: %w", err)
	}
	best := -1
	var bestDist time.Duration
	for i, r := range rows {
		d := r.Timestamp.Sub(t)
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil, nil
	}
	snap := s.decode(rows[best])
	return &snap, nil
}

func (s *SnapshotStore) DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	n, err := s.backend.DeleteBefore(ctx, monitorID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	s.invalidate(monitorID)
	return n, nil
}

func (s *SnapshotStore) CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	return s.backend.CountBefore(ctx, monitorID, cutoff)
}

// Close stops the background flusher and writes what is left.
func (s *SnapshotStore) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := s.Flush(ctx)
	return errors.Join(err, s.backend.Close())
}

// invalidate drops the cached ranges of monitorID and bumps its generation so
// a range read already in flight does not cache what it loaded.
func (s *SnapshotStore) invalidate(monitorID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[monitorID]++
	prefix := monitorID + ":"
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
}

func (s *SnapshotStore) generation(monitorID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[monitorID]
}

func (s *SnapshotStore) cacheIfCurrent(monitorID string, gen uint64, key string, v []models.Snapshot) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[monitorID] == gen {
		s.cache.Add(key, v)
	}
}

func (s *SnapshotStore) encode(snap *models.Snapshot) repository.SnapshotRow {
	return repository.SnapshotRow{
		ID:                snap.ID,
		MonitorID:         snap.MonitorID,
		Timestamp:         snap.Timestamp.UTC(),
		Metrics:           snap.Metrics,
		MarketTrends:      snap.MarketTrends,
		CompetitiveForces: s.encodeField(snap.ID, "competitive_forces", snap.CompetitiveForces),
		StrategicPosition: s.encodeField(snap.ID, "strategic_position", snap.StrategicPosition),
		Sentiment:         snap.Sentiment,
	}
}

func (s *SnapshotStore) encodeField(id, field string, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("snapshot field not serializable, storing empty",
			logger.String("snapshot_id", id),
			logger.String("field", field),
			logger.Error(err),
		)
		data = []byte("null")
	}
	out, st, err := s.codec.Encode(data)
	if err != nil {
		s.log.Warn("snapshot field compression failed, stored raw",
			logger.String("snapshot_id", id),
			logger.String("field", field),
			logger.Error(err),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordSnapshotBytes(st.OriginalSize, st.StoredSize)
	}
	return out
}

func (s *SnapshotStore) decodeAll(rows []repository.SnapshotRow) []models.Snapshot {
	out := make([]models.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = s.decode(r)
	}
	return out
}

func (s *SnapshotStore) decode(r repository.SnapshotRow) models.Snapshot {
	snap := models.Snapshot{
		ID:           r.ID,
		MonitorID:    r.MonitorID,
		Timestamp:    r.Timestamp.UTC(),
		Metrics:      r.Metrics,
		MarketTrends: r.MarketTrends,
		Sentiment:    r.Sentiment,
	}
	snap.CompetitiveForces = decodeField[map[string]string](s, r.ID, "competitive_forces", r.CompetitiveForces)
	snap.StrategicPosition = decodeField[map[string]any](s, r.ID, "strategic_position", r.StrategicPosition)
	return snap
}

// decodeField returns the zero value when the payload cannot be decoded.
func decodeField[T any](s *SnapshotStore, id, field string, payload []byte) T {
	var out T
	if len(payload) == 0 {
		return out
	}
	data, err := compression.Decode(payload)
	if err == nil {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		var zero T
		s.log.Warn("snapshot field unreadable, returning empty",
			logger.String("snapshot_id", id),
			logger.String("field", field),
			logger.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordError("snapshot_decode")
		}
		return zero
	}
	return out
}

var _ repository.SnapshotStore = (*SnapshotStore)(nil)
