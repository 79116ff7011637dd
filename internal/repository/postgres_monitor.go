package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/postgres"

	"github.com/jmoiron/sqlx"
)

type monitorRow struct {
	ID            string                      `db:"id"`
	OwnerID       string                      `db:"owner_id"`
	Subject       string                      `db:"subject"`
	Category      string                      `db:"category"`
	Config        jsonb[models.MonitorConfig] `db:"config"`
	Status        string                      `db:"status"`
	CreatedAt     time.Time                   `db:"created_at"`
	UpdatedAt     time.Time                   `db:"updated_at"`
	LastCheckedAt sql.NullTime                `db:"last_checked_at"`
	NextCheckAt   time.Time                   `db:"next_check_at"`
	TotalAlerts   int                         `db:"total_alerts"`
	ErrorCount    int                         `db:"error_count"`
	LastError     string                      `db:"last_error"`
}

func toMonitorRow(m *models.Monitor) monitorRow {
	r := monitorRow{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Subject:     m.Subject,
		Category:    m.Category,
		Config:      jsonb[models.MonitorConfig]{V: m.Config},
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		NextCheckAt: m.NextCheckAt.UTC(),
		TotalAlerts: m.TotalAlerts,
		ErrorCount:  m.ErrorCount,
		LastError:   m.LastError,
	}
	if m.LastCheckedAt != nil {
		r.LastCheckedAt = sql.NullTime{Time: m.LastCheckedAt.UTC(), Valid: true}
	}
	return r
}

func (r monitorRow) toModel() *models.Monitor {
	m := &models.Monitor{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Subject:     r.Subject,
		Category:    r.Category,
		Config:      r.Config.V,
		Status:      models.MonitorStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		NextCheckAt: r.NextCheckAt.UTC(),
		TotalAlerts: r.TotalAlerts,
		ErrorCount:  r.ErrorCount,
		LastError:   r.LastError,
	}
	if r.LastCheckedAt.Valid {
		t := r.LastCheckedAt.Time.UTC()
		m.LastCheckedAt = &t
	}
	return m
}

const monitorColumns = `id, owner_id, subject, category, config, status, created_at, updated_at,
	last_checked_at, next_check_at, total_alerts, error_count, last_error`

// PostgresMonitorRepository implements MonitorRepository on Postgres via sqlx.
type PostgresMonitorRepository struct {
	db *sqlx.DB
}

func NewPostgresMonitorRepository(db *sqlx.DB) *PostgresMonitorRepository {
	return &PostgresMonitorRepository{db: db}
}

func (r *PostgresMonitorRepository) Create(ctx context.Context, m *models.Monitor) error {
	const q = `INSERT INTO monitors (` + monitorColumns + `) VALUES (
		:id, :owner_id, :subject, :category, :config, :status, :created_at, :updated_at,
		:last_checked_at, :next_check_at, :total_alerts, :error_count, :last_error)`
	if _, err := r.db.NamedExecContext(ctx, q, toMonitorRow(m)); err != nil {
		if postgres.IsUniqueViolation(err) {
			return repository.ErrDuplicateActive
		}
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

func (r *PostgresMonitorRepository) Get(ctx context.Context, id string) (*models.Monitor, error) {
	var row monitorRow
	err := r.db.GetContext(ctx, &row, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresMonitorRepository) Update(ctx context.Context, m *models.Monitor) error {
	const q = `UPDATE monitors SET
		subject = :subject, category = :category, config = :config, status = :status,
		updated_at = :updated_at, last_checked_at = :last_checked_at, next_check_at = :next_check_at,
		total_alerts = :total_alerts, error_count = :error_count, last_error = :last_error
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, q, toMonitorRow(m))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return repository.ErrDuplicateActive
		}
		return fmt.Errorf("update monitor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresMonitorRepository) RecordCheck(ctx context.Context, m *models.Monitor) error {
	const q = `UPDATE monitors SET
		status = CASE WHEN status = 'active' AND :status = 'error' THEN 'error' ELSE status END,
		updated_at = :updated_at, last_checked_at = :last_checked_at, next_check_at = :next_check_at,
		total_alerts = :total_alerts, error_count = :error_count, last_error = :last_error
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, q, toMonitorRow(m))
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresMonitorRepository) List(ctx context.Context, ownerID string, status models.MonitorStatus) ([]*models.Monitor, error) {
	const q = `SELECT ` + monitorColumns + ` FROM monitors
		WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id`
	return r.selectMonitors(ctx, q, ownerID, string(status))
}

func (r *PostgresMonitorRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Monitor, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `SELECT ` + monitorColumns + ` FROM monitors
		WHERE status = 'active' AND next_check_at <= $1
		ORDER BY next_check_at, id LIMIT $2`
	return r.selectMonitors(ctx, q, now.UTC(), limit)
}

func (r *PostgresMonitorRepository) ListByStatus(ctx context.Context, status models.MonitorStatus) ([]*models.Monitor, error) {
	return r.List(ctx, "", status)
}

func (r *PostgresMonitorRepository) CountByStatus(ctx context.Context, ownerID string) (map[models.MonitorStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	const q = `SELECT status, COUNT(*) AS n FROM monitors WHERE ($1 = '' OR owner_id = $1) GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("count monitors: %w", err)
	}
	out := make(map[models.MonitorStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		out[s] = 0
	}
	for _, row := range rows {
		out[models.MonitorStatus(row.Status)] = row.N
	}
	return out, nil
}

func (r *PostgresMonitorRepository) selectMonitors(ctx context.Context, q string, args ...interface{}) ([]*models.Monitor, error) {
	var rows []monitorRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("select monitors: %w", err)
	}
	out := make([]*models.Monitor, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

var _ repository.MonitorRepository = (*PostgresMonitorRepository)(nil)
