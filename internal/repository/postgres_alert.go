package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type alertRow struct {
	ID          string                       `db:"id"`
	MonitorID   string                       `db:"monitor_id"`
	Title       string                       `db:"title"`
	Summary     string                       `db:"summary"`
	Confidence  float64                      `db:"confidence"`
	Changes     jsonb[[]models.Change]       `db:"changes"`
	Anomalies   jsonb[[]models.AnomalyScore] `db:"anomalies"`
	Priority    jsonb[*models.Priority]      `db:"priority"`
	Explanation jsonb[*models.Explanation]   `db:"explanation"`
	Fingerprint string                       `db:"fingerprint"`
	Read        bool                         `db:"read"`
	Feedback    sql.NullString               `db:"feedback"`
	CreatedAt   time.Time                    `db:"created_at"`
}

func toAlertRow(a *models.Alert) alertRow {
	r := alertRow{
		ID:          a.ID,
		MonitorID:   a.MonitorID,
		Title:       a.Title,
		Summary:     a.Summary,
		Confidence:  a.Confidence,
		Changes:     jsonb[[]models.Change]{V: a.Changes},
		Anomalies:   jsonb[[]models.AnomalyScore]{V: a.Anomalies},
		Priority:    jsonb[*models.Priority]{V: a.Priority},
		Explanation: jsonb[*models.Explanation]{V: a.Explanation},
		Fingerprint: a.Fingerprint,
		Read:        a.Read,
		CreatedAt:   a.CreatedAt.UTC(),
	}
	if r.Changes.V == nil {
		r.Changes.V = []models.Change{}
	}
	if r.Anomalies.V == nil {
		r.Anomalies.V = []models.AnomalyScore{}
	}
	if a.Feedback != nil {
		r.Feedback = sql.NullString{String: *a.Feedback, Valid: true}
	}
	return r
}

func (r alertRow) toModel() *models.Alert {
	a := &models.Alert{
		ID:          r.ID,
		MonitorID:   r.MonitorID,
		Title:       r.Title,
		Summary:     r.Summary,
		Confidence:  r.Confidence,
		Changes:     r.Changes.V,
		Anomalies:   r.Anomalies.V,
		Priority:    r.Priority.V,
		Explanation: r.Explanation.V,
		Fingerprint: r.Fingerprint,
		Read:        r.Read,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.Feedback.Valid {
		fb := r.Feedback.String
		a.Feedback = &fb
	}
	return a
}

const alertColumns = `id, monitor_id, title, summary, confidence, changes, anomalies, priority,
	explanation, fingerprint, read, feedback, created_at`

// PostgresAlertRepository implements AlertRepository on Postgres via sqlx.
type PostgresAlertRepository struct {
	db *sqlx.DB
}

func NewPostgresAlertRepository(db *sqlx.DB) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db}
}

func (r *PostgresAlertRepository) Create(ctx context.Context, a *models.Alert) error {
	const q = `INSERT INTO alerts (` + alertColumns + `) VALUES (
		:id, :monitor_id, :title, :summary, :confidence, :changes, :anomalies, :priority,
		:explanation, :fingerprint, :read, :feedback, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, q, toAlertRow(a)); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *PostgresAlertRepository) Get(ctx context.Context, id string) (*models.Alert, error) {
	var row alertRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresAlertRepository) List(ctx context.Context, f models.AlertFilter) ([]*models.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.MonitorID != "" {
		args = append(args, f.MonitorID)
		where = append(where, fmt.Sprintf("monitor_id = $%d", len(args)))
	}
	if f.UnreadOnly {
		where = append(where, "NOT read")
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	q := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]*models.Alert, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *PostgresAlertRepository) MarkRead(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE alerts SET read = TRUE WHERE id = $1`, id)
}

func (r *PostgresAlertRepository) SetFeedback(ctx context.Context, id, feedback string) error {
	return r.exec(ctx, `UPDATE alerts SET feedback = $2 WHERE id = $1`, id, feedback)
}

func (r *PostgresAlertRepository) exec(ctx context.Context, q string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresAlertRepository) History(ctx context.Context, monitorID, fingerprint string, since time.Time) (*models.HistoricalContext, error) {
	var row struct {
		Recent  int          `db:"recent"`
		Similar int          `db:"similar"`
		Last    sql.NullTime `db:"last_alert_at"`
	}
	const q = `SELECT
		COUNT(*) FILTER (WHERE created_at >= $2) AS recent,
		COUNT(*) FILTER (WHERE created_at >= $2 AND fingerprint = $3) AS similar,
		MAX(created_at) AS last_alert_at
		FROM alerts WHERE monitor_id = $1`
	if err := r.db.GetContext(ctx, &row, q, monitorID, since.UTC(), fingerprint); err != nil {
		return nil, fmt.Errorf("alert history: %w", err)
	}
	h := &models.HistoricalContext{RecentAlerts: row.Recent, SimilarAlerts: row.Similar}
	if row.Last.Valid {
		t := row.Last.Time.UTC()
		h.LastAlertAt = &t
	}
	return h, nil
}

func (r *PostgresAlertRepository) Stats(ctx context.Context, monitorIDs []string, since time.Time) (repository.AlertStats, error) {
	var st repository.AlertStats
	if len(monitorIDs) == 0 {
		return st, nil
	}
	var row struct {
		Total  int     `db:"total"`
		Unread int     `db:"unread"`
		Recent int     `db:"recent"`
		Avg    float64 `db:"avg_confidence"`
	}
	const q = `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE NOT read) AS unread,
		COUNT(*) FILTER (WHERE created_at >= $2) AS recent,
		COALESCE(AVG(confidence) FILTER (WHERE created_at >= $2), 0) AS avg_confidence
		FROM alerts WHERE monitor_id = ANY($1)`
	if err := r.db.GetContext(ctx, &row, q, pq.Array(monitorIDs), since.UTC()); err != nil {
		return st, fmt.Errorf("alert stats: %w", err)
	}
	st.Total, st.Unread, st.Recent, st.AvgConfidence = row.Total, row.Unread, row.Recent, row.Avg
	return st, nil
}

var _ repository.AlertRepository = (*PostgresAlertRepository)(nil)
