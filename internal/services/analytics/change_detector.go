package analytics

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"IntelWatch/internal/domain/models"
	"IntelWatch/pkg/util"
)

// Change confidences per comparison bucket.
const (
	confidenceTextChange   = 0.8
	confidenceNewTrend     = 0.75
	confidenceLostTrend    = 0.70
	confidenceMetricChange = 0.9

	metricChangeThreshold = 0.10
	trendExamples         = 3
)

var (
	regulatoryKeywords = []string{"regulat", "compliance", "legal", "policy"}
	technologyKeywords = []string{"tech", "digital", "platform", "innovation"}
	leadershipKeywords = []string{"leader", "ceo", "executive", "management"}
)

// ChangeDetector diffs consecutive snapshots of one monitor.
type ChangeDetector struct{}

func NewChangeDetector() *ChangeDetector { return &ChangeDetector{} }

// Detect compares cur against prev. Without a baseline there is nothing to
// compare and the result is empty. Output is ordered by category, then title.
func (cd *ChangeDetector) Detect(prev *models.Snapshot, cur models.Snapshot) []models.Change {
	changes := make([]models.Change, 0)
	if prev == nil {
		return changes
	}

	changes = append(changes, diffText("Competitive forces", models.CategoryCompetitiveLandscape,
		stringSections(prev.CompetitiveForces), stringSections(cur.CompetitiveForces), cur)...)
	changes = append(changes, diffText("Strategic position", models.CategoryStrategicShift,
		anySections(prev.StrategicPosition), anySections(cur.StrategicPosition), cur)...)
	changes = append(changes, diffTrends(prev.MarketTrends, cur.MarketTrends, cur)...)
	changes = append(changes, diffMetrics(prev.Metrics, cur.Metrics, cur)...)

	sort.SliceStable(changes, func(i, j int) bool {
		ri, rj := changes[i].Category.Rank(), changes[j].Category.Rank()
		if ri != rj {
			return ri < rj
		}
		return changes[i].Title < changes[j].Title
	})
	return changes
}

func diffText(section string, base models.ChangeCategory, prev, cur map[string]string, snap models.Snapshot) []models.Change {
	var out []models.Change
	for key, curText := range cur {
		prevText, ok := prev[key]
		if !ok {
			continue
		}
		if textHash(prevText) == textHash(curText) {
			continue
		}
		p, c := prevText, curText
		out = append(out, models.Change{
			Category:      classifyKey(key, base),
			Title:         fmt.Sprintf("%s: %s changed", section, key),
			Description:   fmt.Sprintf("%s section %q was revised", section, key),
			Confidence:    confidenceTextChange,
			PreviousValue: &p,
			CurrentValue:  &c,
			DetectedAt:    snap.Timestamp,
		})
	}
	return out
}

func classifyKey(key string, base models.ChangeCategory) models.ChangeCategory {
	k := strings.ToLower(key)
	switch {
	case util.ContainsAny(k, regulatoryKeywords...):
		return models.CategoryRegulatory
	case util.ContainsAny(k, technologyKeywords...):
		return models.CategoryTechnology
	case util.ContainsAny(k, leadershipKeywords...):
		return models.CategoryLeadership
	default:
		return base
	}
}

func textHash(s string) [32]byte {
	return sha256.Sum256([]byte(util.NormalizeText(s)))
}

func stringSections(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// anySections renders non-string values as canonical JSON (sorted keys).
func anySections(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(b)
	}
	return out
}

func diffTrends(prev, cur []string, snap models.Snapshot) []models.Change {
	before := toSet(prev)
	after := toSet(cur)

	var added, removed []string
	for t := range after {
		if _, ok := before[t]; !ok {
			added = append(added, t)
		}
	}
	for t := range before {
		if _, ok := after[t]; !ok {
			removed = append(removed, t)
		}
	}

	var out []models.Change
	if len(added) > 0 {
		out = append(out, models.Change{
			Category:    models.CategoryMarketTrend,
			Title:       fmt.Sprintf("%d new market trend(s) emerged", len(added)),
			Description: "New trends: " + examples(added),
			Confidence:  confidenceNewTrend,
			DetectedAt:  snap.Timestamp,
		})
	}
	if len(removed) > 0 {
		out = append(out, models.Change{
			Category:    models.CategoryMarketTrend,
			Title:       fmt.Sprintf("%d market trend(s) disappeared", len(removed)),
			Description: "No longer observed: " + examples(removed),
			Confidence:  confidenceLostTrend,
			DetectedAt:  snap.Timestamp,
		})
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it != "" {
			out[it] = struct{}{}
		}
	}
	return out
}

func examples(items []string) string {
	sort.Strings(items)
	if len(items) <= trendExamples {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:trendExamples], ", "), len(items)-trendExamples)
}

func diffMetrics(prev, cur map[string]float64, snap models.Snapshot) []models.Change {
	var out []models.Change
	for name, c := range cur {
		p, ok := prev[name]
		if !ok || !models.IsFinite(p) || !models.IsFinite(c) || p == 0 {
			continue
		}
		rel := (c - p) / math.Abs(p)
		if math.Abs(rel) <= metricChangeThreshold {
			continue
		}
		word := "increase"
		if rel < 0 {
			word = "decrease"
		}
		ps, cs := formatMetric(p), formatMetric(c)
		out = append(out, models.Change{
			Category:      models.CategoryFinancialMetric,
			Title:         fmt.Sprintf("%s %s of %.1f%%", name, word, math.Abs(rel)*100),
			Description:   fmt.Sprintf("%s moved from %s to %s", name, ps, cs),
			Confidence:    confidenceMetricChange,
			PreviousValue: &ps,
			CurrentValue:  &cs,
			DetectedAt:    snap.Timestamp,
		})
	}
	return out
}

func formatMetric(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
