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

// MemoryAlertRepository keeps alerts in process, newest first on listing.
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*models.Alert)}
}

func (r *MemoryAlertRepository) Create(_ context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[a.ID]; exists {
		return fmt.Errorf("alert %s already exists", a.ID)
	}
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *MemoryAlertRepository) Get(_ context.Context, id string) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryAlertRepository) List(_ context.Context, f models.AlertFilter) ([]*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Alert, 0)
	for _, a := range r.alerts {
		if f.MonitorID != "" && a.MonitorID != f.MonitorID {
			continue
		}
		if f.UnreadOnly && a.Read {
			continue
		}
		if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryAlertRepository) MarkRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Read = true
	return nil
}

func (r *MemoryAlertRepository) SetFeedback(_ context.Context, id, feedback string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return repository.ErrNotFound
	}
	fb := feedback
	a.Feedback = &fb
	return nil
}

func (r *MemoryAlertRepository) History(_ context.Context, monitorID, fingerprint string, since time.Time) (*models.HistoricalContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := &models.HistoricalContext{}
	for _, a := range r.alerts {
		if a.MonitorID != monitorID {
			continue
		}
		if h.LastAlertAt == nil || a.CreatedAt.After(*h.LastAlertAt) {
			t := a.CreatedAt
			h.LastAlertAt = &t
		}
		if a.CreatedAt.Before(since) {
			continue
		}
		h.RecentAlerts++
		if fingerprint != "" && a.Fingerprint == fingerprint {
			h.SimilarAlerts++
		}
	}
	return h, nil
}

func (r *MemoryAlertRepository) Stats(_ context.Context, monitorIDs []string, since time.Time) (repository.AlertStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make(map[string]struct{}, len(monitorIDs))
	for _, id := range monitorIDs {
		ids[id] = struct{}{}
	}
	var st repository.AlertStats
	var confSum float64
	for _, a := range r.alerts {
		if _, ok := ids[a.MonitorID]; !ok {
			continue
		}
		st.Total++
		if !a.Read {
			st.Unread++
		}
		if !a.CreatedAt.Before(since) {
			st.Recent++
			confSum += a.Confidence
		}
	}
	if st.Recent > 0 {
		st.AvgConfidence = confSum / float64(st.Recent)
	}
	return st, nil
}

var _ repository.AlertRepository = (*MemoryAlertRepository)(nil)
