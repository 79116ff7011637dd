package models

import "time"

// ChangeCategory is the closed set of change kinds.
type ChangeCategory string

const (
	CategoryCompetitiveLandscape ChangeCategory = "competitive-landscape"
	CategoryMarketTrend          ChangeCategory = "market-trend"
	CategoryFinancialMetric      ChangeCategory = "financial-metric"
	CategoryStrategicShift       ChangeCategory = "strategic-shift"
	CategoryRegulatory           ChangeCategory = "regulatory"
	CategoryTechnology           ChangeCategory = "technology"
	CategoryLeadership           ChangeCategory = "leadership"
)

// AllCategories is the canonical category order used for sorting.
var AllCategories = []ChangeCategory{
	CategoryCompetitiveLandscape,
	CategoryMarketTrend,
	CategoryFinancialMetric,
	CategoryStrategicShift,
	CategoryRegulatory,
	CategoryTechnology,
	CategoryLeadership,
}

// Rank returns the position of c in AllCategories, or len(AllCategories) if unknown.
func (c ChangeCategory) Rank() int {
	for i, v := range AllCategories {
		if v == c {
			return i
		}
	}
	return len(AllCategories)
}

func (c ChangeCategory) Valid() bool { return c.Rank() < len(AllCategories) }

// IsCritical reports whether the category adds the critical bonus when scoring.
func (c ChangeCategory) IsCritical() bool {
	return c == CategoryFinancialMetric || c == CategoryCompetitiveLandscape || c == CategoryRegulatory
}

type Change struct {
	Category      ChangeCategory `json:"category"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Confidence    float64        `json:"confidence"`
	PreviousValue *string        `json:"previous_value,omitempty"`
	CurrentValue  *string        `json:"current_value,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// Categories returns the distinct categories present in changes.
func Categories(changes []Change) map[ChangeCategory]int {
	out := make(map[ChangeCategory]int, len(changes))
	for _, c := range changes {
		out[c.Category]++
	}
	return out
}
