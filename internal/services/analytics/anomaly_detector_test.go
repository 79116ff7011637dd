package analytics

import (
	"math"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(n int, f func(i int) float64) []models.Point {
	out := make([]models.Point, n)
	for i := 0; i < n; i++ {
		out[i] = models.Point{Time: base.AddDate(0, 0, i), Value: f(i)}
	}
	return out
}

func flatRevenue(i int) float64 { return 100 + float64(i%3) - 1 }

func TestFitRequiresMinimumValidPoints(t *testing.T) {
	d := NewAnomalyDetector(nil)

	short := dailySeries(13, flatRevenue)
	assert.False(t, d.Fit("revenue", short))

	noisy := dailySeries(20, flatRevenue)
	for i := 0; i < 7; i++ {
		noisy[i].Value = math.NaN()
	}
	noisy[8].Value = math.Inf(1)
	assert.False(t, d.Fit("revenue", noisy), "12 finite points are not enough")
	assert.False(t, d.Fitted("revenue"))

	assert.True(t, d.Fit("revenue", dailySeries(14, flatRevenue)))
	assert.Equal(t, []string{"revenue"}, d.Metrics())
}

func TestDetectWithoutModelIsNil(t *testing.T) {
	d := NewAnomalyDetector(nil)
	assert.Nil(t, d.Detect("revenue", 1e9, base))
}

func TestForecastMidpointIsNeverAnomalous(t *testing.T) {
	series := dailySeries(45, func(i int) float64 { return 50 + 2*float64(i) + 5*math.Sin(float64(i)) })
	for _, mode := range []string{ModeConservative, ModeBalanced, ModeAggressive} {
		d := NewAnomalyDetector(nil, WithMode(mode))
		require.True(t, d.Fit("users", series))

		model, err := NewSeasonalForecaster().Fit(series)
		require.NoError(t, err)
		for i := 0; i < 60; i++ {
			ts := base.AddDate(0, 0, i).Add(time.Duration(i) * time.Hour)
			mid := model.Predict(ts, IntervalZ(mode)).Value
			assert.Nil(t, d.Detect("users", mid, ts), "mode %s day %d", mode, i)
		}
	}
}

func TestSeverityIsMonotonicInDeviation(t *testing.T) {
	d := NewAnomalyDetector(nil)
	require.True(t, d.Fit("revenue", dailySeries(30, flatRevenue)))
	ts := base.AddDate(0, 0, 30)

	prev := -1.0
	for v := 100.0; v <= 200; v += 2.5 {
		s := d.Detect("revenue", v, ts)
		sev := 0.0
		if s != nil {
			sev = s.Severity
			assert.LessOrEqual(t, s.Severity, 10.0)
			assert.LessOrEqual(t, s.Confidence, 1.0)
		}
		assert.GreaterOrEqual(t, sev, prev)
		prev = sev
	}
}

func TestRevenueSpikeAfterThirtyDays(t *testing.T) {
	d := NewAnomalyDetector(nil)
	require.True(t, d.Fit("revenue", dailySeries(30, flatRevenue)))

	s := d.Detect("revenue", 150, base.AddDate(0, 0, 30))
	require.NotNil(t, s)
	assert.Equal(t, models.AnomalyPoint, s.Type)
	assert.Greater(t, s.Severity, 5.0)
	assert.Greater(t, s.Confidence, 0.5)
	assert.Contains(t, s.Explanation, "above")
	assert.Contains(t, s.Explanation, "%")

	low := d.Detect("revenue", 60, base.AddDate(0, 0, 30))
	require.NotNil(t, low)
	assert.Contains(t, low.Explanation, "below")
}

func TestDetectWithContextDampensKnownEvents(t *testing.T) {
	d := NewAnomalyDetector(nil)
	require.True(t, d.Fit("revenue", dailySeries(30, flatRevenue)))
	ts := base.AddDate(0, 0, 30).Add(15 * time.Hour)

	plain := d.Detect("revenue", 150, ts)
	require.NotNil(t, plain)

	earnings := []models.KnownEvent{{Date: base.AddDate(0, 0, 30), Kind: models.KnownEventEarnings}}
	adj := d.DetectWithContext("revenue", 150, ts, earnings)
	require.NotNil(t, adj)
	assert.Equal(t, models.AnomalyContextual, adj.Type)
	assert.InDelta(t, plain.Severity*0.5, adj.Severity, 1e-9)
	assert.Contains(t, adj.Explanation, "earnings")

	amplify := []models.KnownEvent{{Date: ts, Kind: "launch", Factor: 3}}
	assert.Equal(t, 10.0, d.DetectWithContext("revenue", 150, ts, amplify).Severity)

	otherDay := []models.KnownEvent{{Date: base.AddDate(0, 0, 29), Kind: models.KnownEventEarnings}}
	same := d.DetectWithContext("revenue", 150, ts, otherDay)
	assert.Equal(t, models.AnomalyPoint, same.Type)
	assert.Equal(t, plain.Severity, same.Severity)
}

func TestAnalyzeTrendReportsReversal(t *testing.T) {
	series := dailySeries(40, func(i int) float64 {
		if i <= 29 {
			return 100 + 5*float64(i)
		}
		return 245 - 5*float64(i-29)
	})
	d := NewAnomalyDetector(nil)
	require.True(t, d.Fit("revenue", series))

	ta := d.AnalyzeTrend("revenue", 10)
	require.NotNil(t, ta)
	assert.Equal(t, models.TrendDown, ta.RecentDirection)
	assert.Equal(t, models.TrendUp, ta.PreviousDirection)
	assert.True(t, ta.Reversal)
	require.NotNil(t, ta.Score)
	assert.Equal(t, models.AnomalyTrendReversal, ta.Score.Type)
	assert.InDelta(t, 10*ta.Confidence, ta.Score.Severity, 1e-9)
}

func TestAnalyzeTrendSteadyGrowthIsNotReversal(t *testing.T) {
	d := NewAnomalyDetector(nil)
	require.True(t, d.Fit("revenue", dailySeries(40, func(i int) float64 { return 100 + 5*float64(i) })))

	ta := d.AnalyzeTrend("revenue", 10)
	require.NotNil(t, ta)
	assert.False(t, ta.Reversal)
	assert.Nil(t, ta.Score)
	assert.Equal(t, models.TrendUp, ta.RecentDirection)

	assert.Nil(t, d.AnalyzeTrend("missing", 10))
	assert.Nil(t, d.AnalyzeTrend("revenue", 39), "older window falls before the series")
}

func TestDetectVolatilitySpike(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d := NewAnomalyDetector(nil, WithClock(func() time.Time { return now }))

	s := d.DetectVolatilitySpike("price", []float64{1, 10, 1, 10}, []float64{5, 6, 5, 6, 5, 6})
	require.NotNil(t, s)
	assert.Equal(t, models.AnomalyVolatilitySpike, s.Type)
	assert.Equal(t, 10.0, s.Severity)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Equal(t, now, s.Timestamp)

	assert.Nil(t, d.DetectVolatilitySpike("price", []float64{5, 6, 5}, []float64{5, 6, 5, 6}))
	assert.Nil(t, d.DetectVolatilitySpike("price", []float64{1}, []float64{5, 6, 5, 6}))
	assert.Nil(t, d.DetectVolatilitySpike("price", []float64{1, 9}, []float64{5, 5, 5}))
}

func TestSeasonalForecasterSigmaFloor(t *testing.T) {
	m, err := NewSeasonalForecaster().Fit(dailySeries(20, func(int) float64 { return 200 }))
	require.NoError(t, err)
	f := m.Predict(base.AddDate(0, 0, 25), 1)
	assert.InDelta(t, 200, f.Value, 1e-9)
	assert.InDelta(t, 2, f.Sigma, 1e-9)

	zero, err := NewSeasonalForecaster().Fit(dailySeries(20, func(int) float64 { return 0 }))
	require.NoError(t, err)
	assert.Equal(t, 1e-9, zero.Predict(base, 1).Sigma)

	_, err = NewSeasonalForecaster().Fit(dailySeries(1, flatRevenue))
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestSeasonalForecasterLearnsWeekdayEffect(t *testing.T) {
	weekendDip := func(i int) float64 {
		wd := base.AddDate(0, 0, i).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return 70
		}
		return 100
	}
	m, err := NewSeasonalForecaster().Fit(dailySeries(28, weekendDip))
	require.NoError(t, err)

	sat := base.AddDate(0, 0, 33) // 2024-02-03 is a Saturday
	require.Equal(t, time.Saturday, sat.Weekday())
	wed := base.AddDate(0, 0, 30)
	assert.Less(t, m.Predict(sat, 1).Value, m.Predict(wed, 1).Value-20)

	trend := m.TrendComponent()
	assert.Len(t, trend, 28)
}

func TestDetectorRegistry(t *testing.T) {
	reg := NewDetectorRegistry(func() *AnomalyDetector { return NewAnomalyDetector(nil, WithMinPoints(3)) })
	a := reg.Get("m1")
	assert.Same(t, a, reg.Get("m1"))
	assert.NotSame(t, a, reg.Get("m2"))
	assert.Equal(t, 2, reg.Len())

	fresh := reg.New()
	require.True(t, fresh.Fit("revenue", dailySeries(3, flatRevenue)))
	reg.Replace("m1", fresh)
	assert.True(t, reg.Get("m1").Fitted("revenue"))

	reg.Drop("m1")
	assert.False(t, reg.Get("m1").Fitted("revenue"))
}
