package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	pkgch "IntelWatch/pkg/clickhouse"
)

// ClickHouseAggregationRepository keeps aggregations in a ReplacingMergeTree;
// an Upsert of the same (monitor, period, start) replaces the older version.
type ClickHouseAggregationRepository struct {
	db *sql.DB
}

func NewClickHouseAggregationRepository(client *pkgch.Client) *ClickHouseAggregationRepository {
	return &ClickHouseAggregationRepository{db: client.DB()}
}

func (r *ClickHouseAggregationRepository) Upsert(ctx context.Context, a *models.Aggregation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal aggregation: %w", err)
	}
	const q = `INSERT INTO aggregations (monitor_id, period, start_time, end_time, data, generated_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, a.MonitorID, string(a.Period), a.Start.UTC(), a.End.UTC(), string(data), a.GeneratedAt.UTC()); err != nil {
		return fmt.Errorf("insert aggregation: %w", err)
	}
	return nil
}

func (r *ClickHouseAggregationRepository) Get(ctx context.Context, monitorID string, period models.Period, start time.Time) (*models.Aggregation, error) {
	const q = `SELECT data FROM aggregations FINAL
		WHERE monitor_id = ? AND period = ? AND start_time = ?
		ORDER BY generated_at DESC LIMIT 1`
	var data string
	if err := r.db.QueryRowContext(ctx, q, monitorID, string(period), start.UTC()).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get aggregation: %w", err)
	}
	var a models.Aggregation
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("decode aggregation: %w", err)
	}
	return &a, nil
}

func (r *ClickHouseAggregationRepository) DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	n, err := r.CountBefore(ctx, monitorID, cutoff)
	if err != nil || n == 0 {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM aggregations WHERE monitor_id = ? AND end_time < ?`, monitorID, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete aggregations: %w", err)
	}
	return n, nil
}

func (r *ClickHouseAggregationRepository) CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	var n uint64
	if err := r.db.QueryRowContext(ctx, `SELECT count() FROM aggregations FINAL WHERE monitor_id = ? AND end_time < ?`, monitorID, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count aggregations: %w", err)
	}
	return int64(n), nil
}

var _ repository.AggregationRepository = (*ClickHouseAggregationRepository)(nil)
