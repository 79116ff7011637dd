package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"IntelWatch/internal/domain/models"
	"IntelWatch/internal/domain/repository"
	"IntelWatch/pkg/logger"

	"gonum.org/v1/gonum/stat"
)

const (
	defaultMAWindow        = 3
	significantJumpPct     = 20.0
	maxSignificantChanges  = 10
	maxTopTrends           = 5
	aggregationTrendFactor = 0.05
)

type AggregatorOption func(*Aggregator)

func WithMAWindow(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.maWindow = n
		}
	}
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator rolls snapshots up into daily, weekly and monthly summaries.
type Aggregator struct {
	snapshots repository.SnapshotStore
	repo      repository.AggregationRepository
	log       *logger.Logger
	maWindow  int
	now       func() time.Time
}

func NewAggregator(snapshots repository.SnapshotStore, repo repository.AggregationRepository, lgr *logger.Logger, opts ...AggregatorOption) *Aggregator {
	if lgr == nil {
		lgr = logger.Nop()
	}
	a := &Aggregator{
		snapshots: snapshots,
		repo:      repo,
		log:       lgr.With(logger.String("component", "aggregator")),
		maWindow:  defaultMAWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) GenerateDaily(ctx context.Context, monitorID string, date time.Time) (*models.Aggregation, error) {
	return a.Generate(ctx, monitorID, models.PeriodDaily, date)
}

func (a *Aggregator) GenerateWeekly(ctx context.Context, monitorID string, date time.Time) (*models.Aggregation, error) {
	return a.Generate(ctx, monitorID, models.PeriodWeekly, date)
}

func (a *Aggregator) GenerateMonthly(ctx context.Context, monitorID string, date time.Time) (*models.Aggregation, error) {
	return a.Generate(ctx, monitorID, models.PeriodMonthly, date)
}

// Generate builds the aggregation of the period window containing date. It
// returns nil when the window holds no snapshots.
func (a *Aggregator) Generate(ctx context.Context, monitorID string, period models.Period, date time.Time) (*models.Aggregation, error) {
	start, end := period.Window(date)
	snaps, err := a.snapshots.GetRange(ctx, monitorID, start, end, 0)
	if err != nil {
		return nil, fmt.Errorf("load %s window %s: %w", period, start.Format(time.DateOnly), err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	agg := a.build(snaps)
	agg.MonitorID = monitorID
	agg.Period = period
	agg.Start = start
	agg.End = end
	agg.GeneratedAt = a.now().UTC()
	return agg, nil
}

// Backfill generates and stores every window of each period whose start lies
// in [start, end). Empty windows are skipped and not counted.
func (a *Aggregator) Backfill(ctx context.Context, monitorID string, start, end time.Time, periods []models.Period) (map[models.Period]int, error) {
	counts := make(map[models.Period]int, len(periods))
	for _, p := range periods {
		counts[p] = 0
		for _, ws := range p.Windows(start, end) {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
			agg, err := a.Generate(ctx, monitorID, p, ws)
			if err != nil {
				return counts, err
			}
			if agg == nil {
				continue
			}
			if err := a.repo.Upsert(ctx, agg); err != nil {
				return counts, fmt.Errorf("store %s aggregation: %w", p, err)
			}
			counts[p]++
		}
	}
	a.log.Debug("backfill finished",
		logger.String("monitor_id", monitorID),
		logger.Any("counts", counts),
	)
	return counts, nil
}

// Get returns the stored aggregation of the window containing start, or
// generates it. Windows that have closed are stored for next time. A nil
// result means no data for the period.
func (a *Aggregator) Get(ctx context.Context, monitorID string, period models.Period, start time.Time) (*models.Aggregation, error) {
	ws, we := period.Window(start)
	agg, err := a.repo.Get(ctx, monitorID, period, ws)
	switch {
	case err == nil:
		return agg, nil
	case !errors.Is(err, repository.ErrNotFound):
		a.log.Warn("aggregation lookup failed, regenerating",
			logger.String("monitor_id", monitorID),
			logger.String("period", string(period)),
			logger.Error(err),
		)
	}

	agg, err = a.Generate(ctx, monitorID, period, ws)
	if err != nil {
		a.log.Warn("aggregation unavailable",
			logger.String("monitor_id", monitorID),
			logger.String("period", string(period)),
			logger.Error(err),
		)
		return nil, nil
	}
	if agg == nil {
		return nil, nil
	}
	if !we.After(a.now()) {
		if err := a.repo.Upsert(ctx, agg); err != nil {
			a.log.Warn("aggregation cache write failed", logger.String("monitor_id", monitorID), logger.Error(err))
		}
	}
	return agg, nil
}

// DeleteBefore drops stored aggregations whose window ended before cutoff.
func (a *Aggregator) DeleteBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	return a.repo.DeleteBefore(ctx, monitorID, cutoff)
}

func (a *Aggregator) CountBefore(ctx context.Context, monitorID string, cutoff time.Time) (int64, error) {
	return a.repo.CountBefore(ctx, monitorID, cutoff)
}

func (a *Aggregator) build(snaps []models.Snapshot) *models.Aggregation {
	sorted := append([]models.Snapshot(nil), snaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	names := make([]string, 0)
	for n := range models.MetricNames(sorted) {
		names = append(names, n)
	}
	sort.Strings(names)

	agg := &models.Aggregation{
		SnapshotCount:      len(sorted),
		Metrics:            make(map[string]models.MetricStats, len(names)),
		Trends:             make(map[string]models.TrendDirection, len(names)),
		MovingAverages:     make(map[string][]float64, len(names)),
		SignificantChanges: make([]models.SignificantChange, 0),
	}

	for _, name := range names {
		series := models.MetricSeries(sorted, name)
		if len(series) == 0 {
			continue
		}
		vals := make([]float64, len(series))
		for i, p := range series {
			vals[i] = p.Value
		}
		st := metricStats(vals)
		agg.Metrics[name] = st
		agg.Trends[name] = seriesTrend(vals, st.Mean)
		agg.MovingAverages[name] = movingAverage(vals, a.maWindow)
		agg.SignificantChanges = append(agg.SignificantChanges, significantChanges(name, series)...)
	}

	sort.SliceStable(agg.SignificantChanges, func(i, j int) bool {
		return agg.SignificantChanges[i].At.Before(agg.SignificantChanges[j].At)
	})
	sort.SliceStable(agg.SignificantChanges, func(i, j int) bool {
		return math.Abs(agg.SignificantChanges[i].PctChange) > math.Abs(agg.SignificantChanges[j].PctChange)
	})
	if len(agg.SignificantChanges) > maxSignificantChanges {
		agg.SignificantChanges = agg.SignificantChanges[:maxSignificantChanges]
	}

	agg.TopTrends = topValues(sorted, maxTopTrends)
	agg.AvgSentiment = avgSentiment(sorted)
	return agg
}

func metricStats(vals []float64) models.MetricStats {
	st := models.MetricStats{Min: vals[0], Max: vals[0], Count: len(vals), Mean: stat.Mean(vals, nil)}
	for _, v := range vals[1:] {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	if len(vals) >= 2 {
		st.StdDev = stat.StdDev(vals, nil)
	}
	return st
}

// seriesTrend classifies the least-squares slope per sample: up or down when
// |slope| exceeds 5% of |mean|, else stable.
func seriesTrend(vals []float64, mean float64) models.TrendDirection {
	if len(vals) < 2 {
		return models.TrendStable
	}
	idx := make([]float64, len(vals))
	for i := range idx {
		idx[i] = float64(i)
	}
	_, slope := stat.LinearRegression(idx, vals, nil, false)
	if math.Abs(slope) <= aggregationTrendFactor*math.Abs(mean) {
		return models.TrendStable
	}
	if slope > 0 {
		return models.TrendUp
	}
	return models.TrendDown
}

// movingAverage returns trailing averages over window; a series shorter than
// the window yields none.
func movingAverage(vals []float64, window int) []float64 {
	out := make([]float64, 0)
	if window <= 0 || len(vals) < window {
		return out
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

func significantChanges(metric string, series []models.Point) []models.SignificantChange {
	var out []models.SignificantChange
	for i := 1; i < len(series); i++ {
		prev, cur := series[i-1].Value, series[i].Value
		if prev == 0 {
			continue
		}
		pct := (cur - prev) / math.Abs(prev) * 100
		if math.Abs(pct) > significantJumpPct {
			out = append(out, models.SignificantChange{
				Metric:    metric,
				From:      prev,
				To:        cur,
				PctChange: pct,
				At:        series[i].Time,
			})
		}
	}
	return out
}

func topValues(snaps []models.Snapshot, limit int) []models.ValueCount {
	counts := make(map[string]int)
	first := make(map[string]int)
	order := 0
	for _, s := range snaps {
		for _, t := range s.MarketTrends {
			if _, ok := first[t]; !ok {
				first[t] = order
				order++
			}
			counts[t]++
		}
	}
	out := make([]models.ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, models.ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return first[out[i].Value] < first[out[j].Value]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func avgSentiment(snaps []models.Snapshot) *float64 {
	var sum float64
	n := 0
	for _, s := range snaps {
		if s.Sentiment != nil && models.IsFinite(*s.Sentiment) {
			sum += *s.Sentiment
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
