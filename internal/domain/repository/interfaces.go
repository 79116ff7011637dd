package repository

import (
	"context"
	"errors"
	"time"

	"IntelWatch/internal/domain/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateActive   = errors.New("an active monitor already exists for this owner and subject")
	ErrInvalidTransition = models.ErrInvalidTransition
	ErrInvalidConfig     = errors.New("invalid monitor configuration")
)

// MonitorRepository persists monitors. Create and Update enforce that at most
// one active monitor exists per (owner, subject) and return ErrDuplicateActive.
//
// RecordCheck writes only the check bookkeeping of m (last/next check, alert
// and error counters, last error). The stored status changes only when it is
// still active and m moved to error, so a pause or delete issued while the
// check ran is kept.
type MonitorRepository interface {
	Create(ctx context.Context, m *models.Monitor) error
	Get(ctx context.Context, id string) (*models.Monitor, error)
	Update(ctx context.Context, m *models.Monitor) error
	RecordCheck(ctx context.Context, m *models.Monitor) error
	List(ctx context.Context, ownerID string, status models.MonitorStatus) ([]*models.Monitor, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Monitor, error)
	ListByStatus(ctx context.Context, status models.MonitorStatus) ([]*models.Monitor, error)
	CountByStatus(ctx context.Context, ownerID string) (map[models.MonitorStatus]int, error)
}

// SnapshotBackend is the raw row store behind SnapshotStore. Rows carry
// already-encoded text fields.
type SnapshotBackend interface {
	Init(ctx context.Context) error
	InsertBatch(ctx context.Context, rows []SnapshotRow) error
	Range(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]SnapshotRow, error)
	Latest(ctx context.Context, monitorID string) (*SnapshotRow, error)
	Between(ctx context.Context, monitorID string, start, end time.Time) ([]SnapshotRow, error)
	DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
	CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
	Close() error
}

// SnapshotRow is the stored form of a snapshot. CompetitiveForces and
// StrategicPosition hold codec payloads (tag byte + body).
type SnapshotRow struct {
	ID                string
	MonitorID         string
	Timestamp         time.Time
	Metrics           map[string]float64
	MarketTrends      []string
	CompetitiveForces []byte
	StrategicPosition []byte
	Sentiment         *float64
}

// SnapshotStore is the read/write surface used by the engine. GetRange is
// half-open [start, end) in ascending time order; limit > 0 keeps the most
// recent limit snapshots.
type SnapshotStore interface {
	Put(ctx context.Context, s *models.Snapshot) error
	GetRange(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]models.Snapshot, error)
	GetLatest(ctx context.Context, monitorID string) (*models.Snapshot, error)
	GetNear(ctx context.Context, monitorID string, t time.Time, tolerance time.Duration) (*models.Snapshot, error)
	DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
	CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

type AlertRepository interface {
	Create(ctx context.Context, a *models.Alert) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error)
	MarkRead(ctx context.Context, id string) error
	SetFeedback(ctx context.Context, id, feedback string) error
	History(ctx context.Context, monitorID, fingerprint string, since time.Time) (*models.HistoricalContext, error)
	Stats(ctx context.Context, monitorIDs []string, since time.Time) (AlertStats, error)
}

// AlertStats are alert counters over a set of monitors.
type AlertStats struct {
	Total         int
	Unread        int
	Recent        int
	AvgConfidence float64 // over Recent
}

type AggregationRepository interface {
	Upsert(ctx context.Context, a *models.Aggregation) error
	Get(ctx context.Context, monitorID string, period models.Period, start time.Time) (*models.Aggregation, error)
	DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
	CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error)
}

// DedupStore backs the alert scorer's dedup, throttle and cap windows. It is
// best-effort: callers treat errors as "not seen".
type DedupStore interface {
	Seen(ctx context.Context, monitorID, fingerprint string) (bool, error)
	Remember(ctx context.Context, monitorID, fingerprint string, ttl time.Duration) error
	DailyCount(ctx context.Context, monitorID string, day time.Time) (int, error)
	IncrDaily(ctx context.Context, monitorID string, day time.Time) (int, error)
	MarkBatch(ctx context.Context, monitorID string, ttl time.Duration) (bool, error)
	BatchActive(ctx context.Context, monitorID string) (bool, error)
}

type Metrics interface {
	RecordCheck(result string)
	RecordAlert(urgency, decision string)
	RecordAnomaly(kind string)
	RecordError(kind string)
	RecordSnapshotBytes(original, stored int)
	RecordLatency(op string, seconds float64)
	RecordMonitors(status string, n int)
}
