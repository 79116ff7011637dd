package repository

import (
	"context"
	"fmt"
	"time"

	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/cache"
)

const (
	dedupPrefix = "dedup"
	dailyPrefix = "daily"
	batchPrefix = "batch:medium"

	dailyCounterTTL = 48 * time.Hour
)

// CacheDedupStore keeps alert fingerprints, daily counters and the medium
// batch marker in a cache.Service. MemoryCache serves a single instance and
// RedisCache shares the windows across replicas.
type CacheDedupStore struct {
	cache cache.Service
}

func NewCacheDedupStore(c cache.Service) *CacheDedupStore {
	return &CacheDedupStore{cache: c}
}

func (s *CacheDedupStore) Seen(ctx context.Context, monitorID, fingerprint string) (bool, error) {
	ok, err := s.cache.Exists(ctx, cache.GenerateKeyWithParams(dedupPrefix, monitorID, fingerprint))
	if err != nil {
		return false, fmt.Errorf("dedup seen: %w", err)
	}
	return ok, nil
}

func (s *CacheDedupStore) Remember(ctx context.Context, monitorID, fingerprint string, ttl time.Duration) error {
	key := cache.GenerateKeyWithParams(dedupPrefix, monitorID, fingerprint)
	if err := s.cache.Set(ctx, key, time.Now().UTC().Unix(), ttl); err != nil {
		return fmt.Errorf("dedup remember: %w", err)
	}
	return nil
}

func (s *CacheDedupStore) DailyCount(ctx context.Context, monitorID string, day time.Time) (int, error) {
	key := dailyKey(monitorID, day)
	vals, err := s.cache.MGet(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("daily count: %w", err)
	}
	raw, ok := vals[key]
	if !ok {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscan(raw, &n); err != nil {
		return 0, fmt.Errorf("daily count %q: %w", raw, err)
	}
	return n, nil
}

func (s *CacheDedupStore) IncrDaily(ctx context.Context, monitorID string, day time.Time) (int, error) {
	key := dailyKey(monitorID, day)
	n, err := s.cache.Increment(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("daily incr: %w", err)
	}
	if n == 1 {
		if _, err := s.cache.Expire(ctx, key, dailyCounterTTL); err != nil {
			return int(n), fmt.Errorf("daily expire: %w", err)
		}
	}
	return int(n), nil
}

// MarkBatch opens the medium batch window. It reports false when a window is
// already open.
func (s *CacheDedupStore) MarkBatch(ctx context.Context, monitorID string, ttl time.Duration) (bool, error) {
	ok, err := s.cache.TryLock(ctx, cache.GenerateKey(batchPrefix, monitorID), ttl)
	if err != nil {
		return false, fmt.Errorf("mark batch: %w", err)
	}
	return ok, nil
}

func (s *CacheDedupStore) BatchActive(ctx context.Context, monitorID string) (bool, error) {
	ok, err := s.cache.Exists(ctx, cache.GenerateKey(batchPrefix, monitorID))
	if err != nil {
		return false, fmt.Errorf("batch active: %w", err)
	}
	return ok, nil
}

func dailyKey(monitorID string, day time.Time) string {
	return cache.GenerateKeyWithParams(dailyPrefix, monitorID, day.UTC().Format("20060102"))
}

var _ repository.DedupStore = (*CacheDedupStore)(nil)
