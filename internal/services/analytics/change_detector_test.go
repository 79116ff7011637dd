package analytics

import (
	"math"
	"testing"
	"time"

	"IntelWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSnapshot() models.Snapshot {
	return models.Snapshot{
		ID:           "s1",
		MonitorID:    "m1",
		Timestamp:    time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
		Metrics:      map[string]float64{"revenue": 100, "margin": 0.3, "zero": 0},
		MarketTrends: []string{"ai", "cloud"},
		CompetitiveForces: map[string]string{
			"rivalry":         "Intense price competition",
			"regulatory risk": "Stable",
		},
		StrategicPosition: map[string]any{"moat": "brand", "score": 7.0},
	}
}

func TestDetectIdenticalSnapshotsIsEmpty(t *testing.T) {
	cd := NewChangeDetector()
	s := baseSnapshot()
	assert.Empty(t, cd.Detect(&s, s))
}

func TestDetectWithoutBaselineIsEmpty(t *testing.T) {
	changes := NewChangeDetector().Detect(nil, baseSnapshot())
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}

func TestDetectIgnoresWhitespaceAndCase(t *testing.T) {
	prev := baseSnapshot()
	cur := baseSnapshot()
	cur.CompetitiveForces = map[string]string{
		"rivalry":         "  intense   PRICE competition ",
		"regulatory risk": "stable",
	}
	assert.Empty(t, NewChangeDetector().Detect(&prev, cur))
}

func TestDetectMetricChanges(t *testing.T) {
	prev := baseSnapshot()
	cur := baseSnapshot()
	cur.Metrics = map[string]float64{
		"revenue":   125,        // +25%
		"margin":    0.32,       // under 10%
		"zero":      5,          // previous zero is skipped
		"new":       1,          // not in previous
		"headcount": math.NaN(), // skipped
	}

	changes := NewChangeDetector().Detect(&prev, cur)
	require.Len(t, changes, 1)
	c := changes[0]
	assert.Equal(t, models.CategoryFinancialMetric, c.Category)
	assert.Equal(t, 0.9, c.Confidence)
	assert.Equal(t, "revenue increase of 25.0%", c.Title)
	require.NotNil(t, c.PreviousValue)
	assert.Equal(t, "100", *c.PreviousValue)
	assert.Equal(t, cur.Timestamp, c.DetectedAt)

	cur.Metrics = map[string]float64{"revenue": 80}
	changes = NewChangeDetector().Detect(&prev, cur)
	require.Len(t, changes, 1)
	assert.Equal(t, "revenue decrease of 20.0%", changes[0].Title)
}

func TestDetectTrendSetDifferences(t *testing.T) {
	prev := baseSnapshot()
	cur := baseSnapshot()
	cur.MarketTrends = []string{"ai", "edge", "quantum", "robotics", "biotech", "5g"}

	changes := NewChangeDetector().Detect(&prev, cur)
	require.Len(t, changes, 2)

	assert.Equal(t, "1 market trend(s) disappeared", changes[0].Title)
	assert.Equal(t, 0.70, changes[0].Confidence)
	assert.Equal(t, "No longer observed: cloud", changes[0].Description)

	assert.Equal(t, "5 new market trend(s) emerged", changes[1].Title)
	assert.Equal(t, 0.75, changes[1].Confidence)
	assert.Equal(t, "New trends: 5g, biotech, edge and 2 more", changes[1].Description)
}

func TestDetectTextSectionsAndKeywordCategories(t *testing.T) {
	prev := baseSnapshot()
	cur := baseSnapshot()
	cur.CompetitiveForces = map[string]string{
		"rivalry":         "New entrant undercuts on price",
		"regulatory risk": "Antitrust probe opened",
		"suppliers":       "only in current, ignored",
	}
	cur.StrategicPosition = map[string]any{"moat": "brand", "score": 8.5}

	changes := NewChangeDetector().Detect(&prev, cur)
	require.Len(t, changes, 3)

	// sorted by category order, then title
	assert.Equal(t, models.CategoryCompetitiveLandscape, changes[0].Category)
	assert.Equal(t, "Competitive forces: rivalry changed", changes[0].Title)
	assert.Equal(t, 0.8, changes[0].Confidence)

	assert.Equal(t, models.CategoryStrategicShift, changes[1].Category)
	assert.Equal(t, "Strategic position: score changed", changes[1].Title)
	require.NotNil(t, changes[1].CurrentValue)
	assert.Equal(t, "8.5", *changes[1].CurrentValue)

	assert.Equal(t, models.CategoryRegulatory, changes[2].Category)
}

func TestDetectOrderIsStable(t *testing.T) {
	prev := baseSnapshot()
	cur := baseSnapshot()
	cur.Metrics = map[string]float64{"revenue": 200, "margin": 0.6}
	cur.MarketTrends = []string{"ai", "edge"}
	cur.CompetitiveForces = map[string]string{"rivalry": "changed", "regulatory risk": "changed"}

	first := NewChangeDetector().Detect(&prev, cur)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, NewChangeDetector().Detect(&prev, cur))
	}
	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, first[i-1].Category.Rank(), first[i].Category.Rank())
	}
}
