package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"IntelWatch/internal/domain/repository"
	pkgch "IntelWatch/pkg/clickhouse"
	"IntelWatch/pkg/logger"
)

const snapshotColumns = `id, monitor_id, ts, metrics, market_trends, competitive_forces, strategic_position, sentiment`

// ClickHouseSnapshotBackend stores snapshot rows in the ClickHouse snapshots table.
type ClickHouseSnapshotBackend struct {
	client *pkgch.Client
	db     *sql.DB
	log    *logger.Logger
}

func NewClickHouseSnapshotBackend(client *pkgch.Client, lgr *logger.Logger) *ClickHouseSnapshotBackend {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ClickHouseSnapshotBackend{client: client, db: client.DB(), log: lgr}
}

func (b *ClickHouseSnapshotBackend) Init(ctx context.Context) error {
	return b.client.InitSchema(ctx, ClickHouseSchema)
}

// InsertBatch writes rows as one native block through a prepared batch.
func (b *ClickHouseSnapshotBackend) InsertBatch(ctx context.Context, rows []repository.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare snapshot batch: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		metrics := r.Metrics
		if metrics == nil {
			metrics = map[string]float64{}
		}
		trends := r.MarketTrends
		if trends == nil {
			trends = []string{}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.MonitorID,
			r.Timestamp.UTC(),
			metrics,
			trends,
			string(r.CompetitiveForces),
			string(r.StrategicPosition),
			r.Sentiment,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append snapshot %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot batch: %w", err)
	}

	b.log.Debug("clickhouse snapshot batch written",
		logger.Int("rows", len(rows)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Range returns rows in [start, end) ascending. With limit > 0 the newest
// limit rows are selected and re-sorted ascending.
func (b *ClickHouseSnapshotBackend) Range(ctx context.Context, monitorID string, start, end time.Time, limit int) ([]repository.SnapshotRow, error) {
	if limit > 0 {
		q := `SELECT * FROM (
			SELECT ` + snapshotColumns + ` FROM snapshots
			WHERE monitor_id = ? AND ts >= ? AND ts < ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`
		return b.query(ctx, "range", q, monitorID, start.UTC(), end.UTC(), limit)
	}
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE monitor_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`
	return b.query(ctx, "range", q, monitorID, start.UTC(), end.UTC())
}

// Between returns rows in [start, end] ascending.
func (b *ClickHouseSnapshotBackend) Between(ctx context.Context, monitorID string, start, end time.Time) ([]repository.SnapshotRow, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE monitor_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`
	return b.query(ctx, "between", q, monitorID, start.UTC(), end.UTC())
}

func (b *ClickHouseSnapshotBackend) Latest(ctx context.Context, monitorID string) (*repository.SnapshotRow, error) {
	q := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE monitor_id = ?
		ORDER BY ts DESC LIMIT 1`
	rows, err := b.query(ctx, "latest", q, monitorID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// DeleteBefore removes rows older than cutoff with a lightweight delete and
// returns how many matched beforehand.
func (b *ClickHouseSnapshotBackend) DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	n, err := b.CountBefore(ctx, monitorID, cutoff)
	if err != nil || n == 0 {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM snapshots WHERE monitor_id = ? AND ts < ?`, monitorID, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return n, nil
}

func (b *ClickHouseSnapshotBackend) CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	var n uint64
	err := b.db.QueryRowContext(ctx, `SELECT count() FROM snapshots WHERE monitor_id = ? AND ts < ?`, monitorID, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return int64(n), nil
}

// Close is a no-op; the connection pool belongs to pkg/clickhouse.Client.
func (b *ClickHouseSnapshotBackend) Close() error { return nil }

func (b *ClickHouseSnapshotBackend) query(ctx context.Context, op, q string, args ...interface{}) ([]repository.SnapshotRow, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		b.log.Error("clickhouse snapshot query error", logger.String("op", op), logger.Error(err))
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]repository.SnapshotRow, 0, 64)
	for rows.Next() {
		var (
			r         repository.SnapshotRow
			cf, sp    string
			sentiment sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.MonitorID, &r.Timestamp, &r.Metrics, &r.MarketTrends, &cf, &sp, &sentiment); err != nil {
			b.log.Error("clickhouse snapshot scan error", logger.String("op", op), logger.Error(err))
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.CompetitiveForces = []byte(cf)
		r.StrategicPosition = []byte(sp)
		if sentiment.Valid {
			v := sentiment.Float64
			r.Sentiment = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var _ repository.SnapshotBackend = (*ClickHouseSnapshotBackend)(nil)
