package analytics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"IntelWatch/internal/domain/models"
	domsvc "IntelWatch/internal/domain/service"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/util"

	"gonum.org/v1/gonum/stat"
)

// Detection modes set the prediction interval width.
const (
	ModeConservative = "conservative" // 95%
	ModeBalanced     = "balanced"     // 80%
	ModeAggressive   = "aggressive"   // 60%
)

const (
	defaultMinPoints = 14

	stableFraction   = 0.05
	reversalFraction = 0.2
	spikeRatio       = 2.0
)

// IntervalZ returns the two-sided interval half-width in sigmas for mode.
// Unknown modes fall back to balanced.
func IntervalZ(mode string) float64 {
	switch mode {
	case ModeConservative:
		return 1.96
	case ModeAggressive:
		return 0.8416
	default:
		return 1.2816
	}
}

type DetectorOption func(*AnomalyDetector)

func WithMode(mode string) DetectorOption {
	return func(d *AnomalyDetector) { d.z = IntervalZ(mode) }
}

func WithMinPoints(n int) DetectorOption {
	return func(d *AnomalyDetector) {
		if n > 0 {
			d.minPoints = n
		}
	}
}

func WithDetectorLogger(l *logger.Logger) DetectorOption {
	return func(d *AnomalyDetector) {
		if l != nil {
			d.log = l
		}
	}
}

func WithClock(now func() time.Time) DetectorOption {
	return func(d *AnomalyDetector) {
		if now != nil {
			d.now = now
		}
	}
}

// AnomalyDetector scores metric values against per-metric forecast models.
type AnomalyDetector struct {
	forecaster domsvc.Forecaster
	z          float64
	minPoints  int
	log        *logger.Logger
	now        func() time.Time

	mu     sync.RWMutex
	models map[string]domsvc.Model
}

func NewAnomalyDetector(f domsvc.Forecaster, opts ...DetectorOption) *AnomalyDetector {
	if f == nil {
		f = NewSeasonalForecaster()
	}
	d := &AnomalyDetector{
		forecaster: f,
		z:          IntervalZ(ModeBalanced),
		minPoints:  defaultMinPoints,
		log:        logger.Nop(),
		now:        time.Now,
		models:     make(map[string]domsvc.Model),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fit trains the model for metric. It returns false, keeping any previous
// model, when fewer than the minimum number of finite points are given or the
// forecaster fails.
func (d *AnomalyDetector) Fit(metric string, series []models.Point) bool {
	valid := make([]models.Point, 0, len(series))
	for _, p := range series {
		if models.IsFinite(p.Value) {
			valid = append(valid, p)
		}
	}
	if len(valid) < d.minPoints {
		return false
	}
	m, err := d.forecaster.Fit(valid)
	if err != nil {
		d.log.Warn("anomaly model fit failed",
			logger.String("metric", metric),
			logger.Int("points", len(valid)),
			logger.Error(err),
		)
		return false
	}
	d.mu.Lock()
	d.models[metric] = m
	d.mu.Unlock()
	return true
}

// Fitted reports whether a model exists for metric.
func (d *AnomalyDetector) Fitted(metric string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.models[metric]
	return ok
}

// Metrics returns the names of fitted metrics in sorted order.
func (d *AnomalyDetector) Metrics() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.models))
	for k := range d.models {
		out = append(out, k)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (d *AnomalyDetector) model(metric string) domsvc.Model {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.models[metric]
}

// Detect returns a point anomaly when value falls outside the forecast
// interval at ts, nil otherwise or when metric has no model.
func (d *AnomalyDetector) Detect(metric string, value float64, ts time.Time) *models.AnomalyScore {
	m := d.model(metric)
	if m == nil || !models.IsFinite(value) {
		return nil
	}
	f := m.Predict(ts, d.z)
	if value >= f.Lower && value <= f.Upper {
		return nil
	}

	z := math.Abs(value-f.Value) / f.Sigma
	direction := "above"
	if value < f.Value {
		direction = "below"
	}
	explanation := fmt.Sprintf("%s is %s the expected range [%.2f, %.2f]", metric, direction, f.Lower, f.Upper)
	if f.Value != 0 {
		pct := math.Abs(value-f.Value) / math.Abs(f.Value) * 100
		explanation = fmt.Sprintf("%s is %.1f%% %s forecast %.2f (expected range [%.2f, %.2f])",
			metric, pct, direction, f.Value, f.Lower, f.Upper)
	}

	return &models.AnomalyScore{
		Metric:      metric,
		Type:        models.AnomalyPoint,
		Severity:    math.Min(10, 2*z),
		Confidence:  math.Min(1, z/5),
		Explanation: explanation,
		Forecast:    f.Value,
		Actual:      value,
		Lower:       f.Lower,
		Upper:       f.Upper,
		Timestamp:   ts,
	}
}

// DetectWithContext runs Detect and then dampens the result for a known
// event falling on the same UTC day as ts.
func (d *AnomalyDetector) DetectWithContext(metric string, value float64, ts time.Time, events []models.KnownEvent) *models.AnomalyScore {
	score := d.Detect(metric, value, ts)
	if score == nil {
		return nil
	}
	for _, ev := range events {
		if !util.SameUTCDay(ev.Date, ts) {
			continue
		}
		factor := ev.EffectiveFactor()
		score.Severity = clamp(score.Severity*factor, 0, 10)
		score.Type = models.AnomalyContextual
		score.Explanation += fmt.Sprintf("; adjusted x%.2f for known %s event", factor, ev.Kind)
		break
	}
	return score
}

// AnalyzeTrend compares the trend change over the last recentWindowDays with
// the window of the same length before it. It returns nil without a model or
// when either window holds fewer than two points.
func (d *AnomalyDetector) AnalyzeTrend(metric string, recentWindowDays int) *models.TrendAnalysis {
	m := d.model(metric)
	if m == nil || recentWindowDays <= 0 {
		return nil
	}
	trend := m.TrendComponent()
	if len(trend) < 4 {
		return nil
	}

	window := time.Duration(recentWindowDays) * day
	last := trend[len(trend)-1].Time
	recentStart := last.Add(-window)
	olderStart := recentStart.Add(-window)

	var recent, older []models.Point
	for _, p := range trend {
		switch {
		case p.Time.After(recentStart):
			recent = append(recent, p)
		case p.Time.After(olderStart):
			older = append(older, p)
		}
	}
	if len(recent) < 2 || len(older) < 2 {
		return nil
	}

	mean := m.Mean()
	recentSlope := windowChange(recent, recentWindowDays)
	olderSlope := windowChange(older, recentWindowDays)

	ta := &models.TrendAnalysis{
		Metric:            metric,
		RecentSlope:       recentSlope,
		PreviousSlope:     olderSlope,
		RecentDirection:   direction(recentSlope, mean),
		PreviousDirection: direction(olderSlope, mean),
	}
	if ta.RecentDirection == models.TrendStable || ta.PreviousDirection == models.TrendStable ||
		ta.RecentDirection == ta.PreviousDirection {
		return ta
	}

	ta.Reversal = true
	ta.Confidence = 1
	if mean != 0 {
		ta.Confidence = math.Min(1, math.Abs(recentSlope-olderSlope)/(reversalFraction*math.Abs(mean)))
	}
	ta.Score = &models.AnomalyScore{
		Metric:     metric,
		Type:       models.AnomalyTrendReversal,
		Severity:   10 * ta.Confidence,
		Confidence: ta.Confidence,
		Explanation: fmt.Sprintf("%s trend reversed from %s (%.2f per %dd) to %s (%.2f per %dd)",
			metric, ta.PreviousDirection, olderSlope, recentWindowDays, ta.RecentDirection, recentSlope, recentWindowDays),
		Actual:    recent[len(recent)-1].Value,
		Timestamp: last,
	}
	return ta
}

// DetectVolatilitySpike flags recent values whose sample standard deviation
// is more than twice the historical one.
func (d *AnomalyDetector) DetectVolatilitySpike(metric string, recent, historical []float64) *models.AnomalyScore {
	recent = finite(recent)
	historical = finite(historical)
	if len(recent) < 2 || len(historical) < 2 {
		return nil
	}
	rs := stat.StdDev(recent, nil)
	hs := stat.StdDev(historical, nil)
	if hs == 0 {
		return nil
	}
	ratio := rs / hs
	if ratio <= spikeRatio {
		return nil
	}
	pct := (ratio - 1) * 100
	return &models.AnomalyScore{
		Metric:      metric,
		Type:        models.AnomalyVolatilitySpike,
		Severity:    math.Min(10, pct/40),
		Confidence:  math.Min(1, 0.5+(ratio-spikeRatio)/4),
		Explanation: fmt.Sprintf("%s volatility up %.0f%% (stddev %.4f vs %.4f historically)", metric, pct, rs, hs),
		Actual:      rs,
		Forecast:    hs,
		Timestamp:   d.now().UTC(),
	}
}

// windowChange turns the average per-day slope across pts into the change
// over a window of days.
func windowChange(pts []models.Point, days int) float64 {
	first, last := pts[0], pts[len(pts)-1]
	elapsed := util.DaysBetween(first.Time, last.Time)
	if elapsed <= 0 {
		return 0
	}
	return (last.Value - first.Value) / elapsed * float64(days)
}

func direction(slope, mean float64) models.TrendDirection {
	if math.Abs(slope) < stableFraction*math.Abs(mean) || slope == 0 {
		return models.TrendStable
	}
	if slope > 0 {
		return models.TrendUp
	}
	return models.TrendDown
}

func finite(vs []float64) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if models.IsFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// DetectorRegistry holds one AnomalyDetector per monitor.
type DetectorRegistry struct {
	mu        sync.RWMutex
	detectors map[string]*AnomalyDetector
	factory   func() *AnomalyDetector
}

func NewDetectorRegistry(factory func() *AnomalyDetector) *DetectorRegistry {
	if factory == nil {
		factory = func() *AnomalyDetector { return NewAnomalyDetector(nil) }
	}
	return &DetectorRegistry{detectors: make(map[string]*AnomalyDetector), factory: factory}
}

// Get returns the detector for monitorID, creating an empty one if needed.
func (r *DetectorRegistry) Get(monitorID string) *AnomalyDetector {
	r.mu.RLock()
	d, ok := r.detectors[monitorID]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.detectors[monitorID]; ok {
		return d
	}
	d = r.factory()
	r.detectors[monitorID] = d
	return d
}

// Replace swaps in a freshly trained detector.
func (r *DetectorRegistry) Replace(monitorID string, d *AnomalyDetector) {
	r.mu.Lock()
	r.detectors[monitorID] = d
	r.mu.Unlock()
}

// New builds an unregistered detector with the registry's settings.
func (r *DetectorRegistry) New() *AnomalyDetector { return r.factory() }

func (r *DetectorRegistry) Drop(monitorID string) {
	r.mu.Lock()
	delete(r.detectors, monitorID)
	r.mu.Unlock()
}

func (r *DetectorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.detectors)
}
