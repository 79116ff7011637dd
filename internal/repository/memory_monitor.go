package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
)

// MemoryMonitorRepository keeps monitors in process. Used in single-instance mode and tests.
type MemoryMonitorRepository struct {
	mu       sync.RWMutex
	monitors map[string]*models.Monitor
}

func NewMemoryMonitorRepository() *MemoryMonitorRepository {
	return &MemoryMonitorRepository{monitors: make(map[string]*models.Monitor)}
}

func (r *MemoryMonitorRepository) Create(_ context.Context, m *models.Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.monitors[m.ID]; exists {
		return fmt.Errorf("monitor %s already exists", m.ID)
	}
	if r.activeConflict(m) {
		return repository.ErrDuplicateActive
	}
	r.monitors[m.ID] = cloneMonitor(m)
	return nil
}

func (r *MemoryMonitorRepository) Get(_ context.Context, id string) (*models.Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.monitors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMonitor(m), nil
}

func (r *MemoryMonitorRepository) Update(_ context.Context, m *models.Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.monitors[m.ID]; !ok {
		return repository.ErrNotFound
	}
	if r.activeConflict(m) {
		return repository.ErrDuplicateActive
	}
	r.monitors[m.ID] = cloneMonitor(m)
	return nil
}

func (r *MemoryMonitorRepository) RecordCheck(_ context.Context, m *models.Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.monitors[m.ID]
	if !ok {
		return repository.ErrNotFound
	}
	next := cloneMonitor(cur)
	if m.LastCheckedAt != nil {
		t := *m.LastCheckedAt
		next.LastCheckedAt = &t
	}
	next.NextCheckAt = m.NextCheckAt
	next.TotalAlerts = m.TotalAlerts
	next.ErrorCount = m.ErrorCount
	next.LastError = m.LastError
	next.UpdatedAt = m.UpdatedAt
	if cur.Status == models.StatusActive && m.Status == models.StatusError {
		next.Status = models.StatusError
	}
	r.monitors[m.ID] = next
	return nil
}

func (r *MemoryMonitorRepository) List(_ context.Context, ownerID string, status models.MonitorStatus) ([]*models.Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Monitor, 0)
	for _, m := range r.monitors {
		if ownerID != "" && m.OwnerID != ownerID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, cloneMonitor(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListDue returns active monitors whose next check is at or before now, oldest first.
func (r *MemoryMonitorRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Monitor, 0)
	for _, m := range r.monitors {
		if m.Status == models.StatusActive && !m.NextCheckAt.After(now) {
			out = append(out, cloneMonitor(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextCheckAt.Equal(out[j].NextCheckAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextCheckAt.Before(out[j].NextCheckAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMonitorRepository) ListByStatus(ctx context.Context, status models.MonitorStatus) ([]*models.Monitor, error) {
	return r.List(ctx, "", status)
}

func (r *MemoryMonitorRepository) CountByStatus(_ context.Context, ownerID string) (map[models.MonitorStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.MonitorStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		out[s] = 0
	}
	for _, m := range r.monitors {
		if ownerID == "" || m.OwnerID == ownerID {
			out[m.Status]++
		}
	}
	return out, nil
}

// activeConflict reports whether another active monitor holds m's (owner, subject). Caller holds the lock.
func (r *MemoryMonitorRepository) activeConflict(m *models.Monitor) bool {
	if m.Status != models.StatusActive {
		return false
	}
	for id, other := range r.monitors {
		if id != m.ID && other.Status == models.StatusActive && other.OwnerID == m.OwnerID && other.Subject == m.Subject {
			return true
		}
	}
	return false
}

func cloneMonitor(m *models.Monitor) *models.Monitor {
	cp := *m
	if m.LastCheckedAt != nil {
		t := *m.LastCheckedAt
		cp.LastCheckedAt = &t
	}
	cp.Config.TrackedMetrics = append([]string(nil), m.Config.TrackedMetrics...)
	cp.Config.Frameworks = append([]string(nil), m.Config.Frameworks...)
	cp.Config.Channels = append([]models.Channel(nil), m.Config.Channels...)
	cp.Config.PreferredCategories = append([]models.ChangeCategory(nil), m.Config.PreferredCategories...)
	cp.Config.KnownEvents = append([]models.KnownEvent(nil), m.Config.KnownEvents...)
	return &cp
}

var _ repository.MonitorRepository = (*MemoryMonitorRepository)(nil)
