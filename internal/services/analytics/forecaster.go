package analytics

import (
	"errors"
	"math"
	"sort"
	"time"

	"IntelWatch/internal/domain/models"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/pkg/util"

	"gonum.org/v1/gonum/stat"
)

const (
	day = 24 * time.Hour

	defaultTrendWindow  = 7
	defaultSeasonalSpan = 14 * day
	minSigmaRelative    = 0.01
	minSigmaAbsolute    = 1e-9
)

var ErrTooFewPoints = errors.New("forecaster: need at least two finite points")

// SeasonalForecaster fits an additive model: a least-squares linear trend over
// days since the first observation, a day-of-week effect once the series spans
// two weeks, and a residual sigma.
type SeasonalForecaster struct {
	SeasonalSpan time.Duration
	TrendWindow  int
}

func NewSeasonalForecaster() *SeasonalForecaster {
	return &SeasonalForecaster{SeasonalSpan: defaultSeasonalSpan, TrendWindow: defaultTrendWindow}
}

func (f *SeasonalForecaster) Fit(points []models.Point) (domsvc.Model, error) {
	pts := make([]models.Point, 0, len(points))
	for _, p := range points {
		if models.IsFinite(p.Value) {
			pts = append(pts, p)
		}
	}
	if len(pts) < 2 {
		return nil, ErrTooFewPoints
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })

	origin := pts[0].Time
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = util.DaysBetween(origin, p.Time)
		ys[i] = p.Value
	}

	m := &seasonalModel{origin: origin, mean: stat.Mean(ys, nil)}
	if stat.Variance(xs, nil) > 0 {
		m.alpha, m.beta = stat.LinearRegression(xs, ys, nil, false)
	} else {
		m.alpha = m.mean
	}

	resid := make([]float64, len(pts))
	for i := range pts {
		resid[i] = ys[i] - (m.alpha + m.beta*xs[i])
	}

	span := f.SeasonalSpan
	if span <= 0 {
		span = defaultSeasonalSpan
	}
	if pts[len(pts)-1].Time.Sub(origin) >= span {
		var sums [7]float64
		var counts [7]int
		for i, p := range pts {
			wd := p.Time.UTC().Weekday()
			sums[wd] += resid[i]
			counts[wd]++
		}
		for wd := range sums {
			if counts[wd] > 0 {
				m.weekday[wd] = sums[wd] / float64(counts[wd])
			}
		}
		for i, p := range pts {
			resid[i] -= m.weekday[p.Time.UTC().Weekday()]
		}
		m.seasonal = true
	}

	sigma := stat.StdDev(resid, nil)
	if math.IsNaN(sigma) {
		sigma = 0
	}
	floor := minSigmaRelative * math.Abs(m.mean)
	if floor == 0 {
		floor = minSigmaAbsolute
	}
	m.sigma = math.Max(sigma, floor)

	window := f.TrendWindow
	if window <= 0 {
		window = defaultTrendWindow
	}
	m.trend = centeredMovingAverage(pts, window)
	return m, nil
}

type seasonalModel struct {
	origin   time.Time
	alpha    float64 // intercept
	beta     float64 // slope per day
	weekday  [7]float64
	seasonal bool
	sigma    float64
	mean     float64
	trend    []models.Point
}

func (m *seasonalModel) Predict(ts time.Time, z float64) models.Forecast {
	x := util.DaysBetween(m.origin, ts)
	v := m.alpha + m.beta*x
	if m.seasonal {
		v += m.weekday[ts.UTC().Weekday()]
	}
	return models.Forecast{
		Value: v,
		Lower: v - z*m.sigma,
		Upper: v + z*m.sigma,
		Sigma: m.sigma,
	}
}

func (m *seasonalModel) TrendComponent() []models.Point {
	return append([]models.Point(nil), m.trend...)
}

func (m *seasonalModel) Mean() float64 { return m.mean }

// centeredMovingAverage smooths values with a window centered on each point.
// Near the edges the window shrinks to what is available.
func centeredMovingAverage(pts []models.Point, window int) []models.Point {
	half := window / 2
	out := make([]models.Point, len(pts))
	for i := range pts {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(pts)-1 {
			hi = len(pts) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += pts[j].Value
		}
		out[i] = models.Point{Time: pts[i].Time, Value: sum / float64(hi-lo+1)}
	}
	return out
}

var _ domsvc.Forecaster = (*SeasonalForecaster)(nil)
