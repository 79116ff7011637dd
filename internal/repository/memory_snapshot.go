package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"IntelWatch/internal/domain/repository"
)

// MemorySnapshotBackend stores encoded snapshot rows per monitor, sorted by time.
type MemorySnapshotBackend struct {
	mu   sync.RWMutex
	rows map[string][]repository.SnapshotRow
}

func NewMemorySnapshotBackend() *MemorySnapshotBackend {
	return &MemorySnapshotBackend{rows: make(map[string][]repository.SnapshotRow)}
}

func (b *MemorySnapshotBackend) Init(context.Context) error { return nil }

func (b *MemorySnapshotBackend) InsertBatch(_ context.Context, rows []repository.SnapshotRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	touched := make(map[string]struct{})
	for _, r := range rows {
		b.rows[r.MonitorID] = append(b.rows[r.MonitorID], r)
		touched[r.MonitorID] = struct{}{}
	}
	for id := range touched {
		list := b.rows[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
	return nil
}

// Range returns rows in [start, end) ascending; limit > 0 keeps the newest limit rows.
func (b *MemorySnapshotBackend) Range(_ context.Context, monitorID string, start, end time.Time, limit int) ([]repository.SnapshotRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]repository.SnapshotRow, 0)
	for _, r := range b.rows[monitorID] {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Between returns rows in the closed interval [start, end] ascending.
func (b *MemorySnapshotBackend) Between(_ context.Context, monitorID string, start, end time.Time) ([]repository.SnapshotRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]repository.SnapshotRow, 0)
	for _, r := range b.rows[monitorID] {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *MemorySnapshotBackend) Latest(_ context.Context, monitorID string) (*repository.SnapshotRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.rows[monitorID]
	if len(list) == 0 {
		return nil, nil
	}
	r := list[len(list)-1]
	return &r, nil
}

func (b *MemorySnapshotBackend) DeleteBefore(_ context.Context, monitorID string, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.rows[monitorID]
	kept := list[:0]
	var n int64
	for _, r := range list {
		if r.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	b.rows[monitorID] = kept
	return n, nil
}

func (b *MemorySnapshotBackend) CountBefore(_ context.Context, monitorID string, cutoff time.Time) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	for _, r := range b.rows[monitorID] {
		if r.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (b *MemorySnapshotBackend) Close() error { return nil }

var _ repository.SnapshotBackend = (*MemorySnapshotBackend)(nil)
