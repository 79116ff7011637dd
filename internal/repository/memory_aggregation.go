package repository

import (
	"context"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
)

type aggKey struct {
	monitorID string
	period    models.Period
	start     int64
}

// MemoryAggregationRepository keeps the latest aggregation per (monitor, period, start).
type MemoryAggregationRepository struct {
	mu   sync.RWMutex
	aggs map[aggKey]*models.Aggregation
}

func NewMemoryAggregationRepository() *MemoryAggregationRepository {
	return &MemoryAggregationRepository{aggs: make(map[aggKey]*models.Aggregation)}
}

func (r *MemoryAggregationRepository) Upsert(_ context.Context, a *models.Aggregation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.aggs[aggKey{a.MonitorID, a.Period, a.Start.UTC().UnixNano()}] = &cp
	return nil
}

func (r *MemoryAggregationRepository) Get(_ context.Context, monitorID string, period models.Period, start time.Time) (*models.Aggregation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aggs[aggKey{monitorID, period, start.UTC().UnixNano()}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryAggregationRepository) DeleteBefore(_ context.Context, monitorID string, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, a := range r.aggs {
		if k.monitorID == monitorID && a.End.Before(cutoff) {
			delete(r.aggs, k)
			n++
		}
	}
	return n, nil
}

func (r *MemoryAggregationRepository) CountBefore(_ context.Context, monitorID string, cutoff time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for k, a := range r.aggs {
		if k.monitorID == monitorID && a.End.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

var _ repository.AggregationRepository = (*MemoryAggregationRepository)(nil)
