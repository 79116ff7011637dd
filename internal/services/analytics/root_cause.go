package analytics

import (
	"fmt"
	"sort"
	"strings"

	"IntelWatch/internal/domain/models"
	"IntelWatch/pkg/logger"
	"IntelWatch/pkg/util"
)

const highConfidence = 0.8

var demandKeywords = []string{"demand", "consumer", "customer", "adoption", "spending", "preference", "buyer"}

type pattern struct {
	name       string
	confidence float64
	match      func(cats map[models.ChangeCategory]int, changes []models.Change) bool
	describe   func(cats map[models.ChangeCategory]int, changes []models.Change) string
}

func has(cats map[models.ChangeCategory]int, c models.ChangeCategory) bool { return cats[c] > 0 }

func fixed(s string) func(map[models.ChangeCategory]int, []models.Change) string {
	return func(map[models.ChangeCategory]int, []models.Change) string { return s }
}

// patterns are evaluated in order; the first match is the root cause.
var patterns = []pattern{
	{
		name:       "competitive pressure",
		confidence: 0.80,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return has(cats, models.CategoryCompetitiveLandscape) && has(cats, models.CategoryMarketTrend)
		},
		describe: fixed("Competitors are reacting to, or driving, a shift in the market"),
	},
	{
		name:       "market demand shift",
		confidence: 0.75,
		match: func(cats map[models.ChangeCategory]int, changes []models.Change) bool {
			if !has(cats, models.CategoryMarketTrend) {
				return false
			}
			for _, c := range changes {
				if c.Category == models.CategoryMarketTrend &&
					util.ContainsAny(strings.ToLower(c.Title+" "+c.Description), demandKeywords...) {
					return true
				}
			}
			return false
		},
		describe: fixed("Customer demand is moving and the market is re-pricing around it"),
	},
	{
		name:       "financial performance deviation",
		confidence: 0.70,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return len(cats) == 1 && has(cats, models.CategoryFinancialMetric)
		},
		describe: func(cats map[models.ChangeCategory]int, _ []models.Change) string {
			return fmt.Sprintf("Financial performance deviation across %d metric(s)", cats[models.CategoryFinancialMetric])
		},
	},
	{
		name:       "regulatory environment change",
		confidence: 0.85,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return has(cats, models.CategoryRegulatory)
		},
		describe: fixed("The regulatory or legal environment has changed"),
	},
	{
		name:       "internal realignment",
		confidence: 0.70,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return has(cats, models.CategoryStrategicShift)
		},
		describe: fixed("The company is realigning its strategy internally"),
	},
	{
		name:       "technological disruption",
		confidence: 0.70,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return has(cats, models.CategoryTechnology)
		},
		describe: fixed("Technology shifts are changing how the business competes"),
	},
	{
		name:       "leadership transition",
		confidence: 0.75,
		match: func(cats map[models.ChangeCategory]int, _ []models.Change) bool {
			return has(cats, models.CategoryLeadership)
		},
		describe: fixed("Leadership changes are reshaping priorities"),
	},
}

const genericConfidence = 0.40

var factorGroups = []struct {
	name string
	cats []models.ChangeCategory
}{
	{"internal", []models.ChangeCategory{models.CategoryStrategicShift, models.CategoryLeadership, models.CategoryFinancialMetric}},
	{"market", []models.ChangeCategory{models.CategoryCompetitiveLandscape, models.CategoryMarketTrend}},
	{"regulatory", []models.ChangeCategory{models.CategoryRegulatory}},
	{"technology", []models.ChangeCategory{models.CategoryTechnology}},
}

var timeToImpact = map[models.ChangeCategory]models.TimeToImpact{
	models.CategoryRegulatory:           models.ImpactImmediate,
	models.CategoryFinancialMetric:      models.ImpactImmediate,
	models.CategoryCompetitiveLandscape: models.ImpactShortTerm,
	models.CategoryMarketTrend:          models.ImpactShortTerm,
	models.CategoryLeadership:           models.ImpactShortTerm,
	models.CategoryStrategicShift:       models.ImpactMediumTerm,
	models.CategoryTechnology:           models.ImpactMediumTerm,
}

var impactRank = map[models.TimeToImpact]int{
	models.ImpactImmediate:  0,
	models.ImpactShortTerm:  1,
	models.ImpactMediumTerm: 2,
}

var impactAreas = map[models.ChangeCategory]string{
	models.CategoryCompetitiveLandscape: "market position",
	models.CategoryMarketTrend:          "demand outlook",
	models.CategoryFinancialMetric:      "financial performance",
	models.CategoryStrategicShift:       "strategic direction",
	models.CategoryRegulatory:           "compliance",
	models.CategoryTechnology:           "product and technology",
	models.CategoryLeadership:           "governance",
}

var mitigations = map[models.ChangeCategory][]string{
	models.CategoryCompetitiveLandscape: {"Refresh competitive battlecards", "Review pricing against the new landscape"},
	models.CategoryMarketTrend:          {"Re-validate demand assumptions in the forecast", "Review pricing against the new landscape"},
	models.CategoryFinancialMetric:      {"Reconcile the moved metrics with the latest filings", "Stress-test the financial outlook"},
	models.CategoryStrategicShift:       {"Map the new strategic priorities to our exposure"},
	models.CategoryRegulatory:           {"Engage legal to assess compliance exposure", "Prepare a compliance gap analysis"},
	models.CategoryTechnology:           {"Assess the technology roadmap for gaps"},
	models.CategoryLeadership:           {"Brief stakeholders on the leadership change"},
}

var actionTemplates = map[models.ChangeCategory][]models.Action{
	models.CategoryRegulatory: {
		{Priority: models.ActionUrgent, Action: "Review regulatory exposure with legal", Owner: "[Legal lead]"},
	},
	models.CategoryFinancialMetric: {
		{Priority: models.ActionUrgent, Action: "Validate the metric movement against source data", Owner: "[Finance analyst]"},
		{Priority: models.ActionHigh, Action: "Update the financial model", Owner: "[Finance analyst]"},
	},
	models.CategoryCompetitiveLandscape: {
		{Priority: models.ActionHigh, Action: "Brief sales on competitor moves", Owner: "[Competitive intel lead]"},
		{Priority: models.ActionMedium, Action: "Review positioning and messaging", Owner: "[Product marketing]"},
	},
	models.CategoryMarketTrend: {
		{Priority: models.ActionHigh, Action: "Reassess target segments", Owner: "[Strategy lead]"},
		{Priority: models.ActionMedium, Action: "Review positioning and messaging", Owner: "[Product marketing]"},
	},
	models.CategoryLeadership: {
		{Priority: models.ActionHigh, Action: "Identify new decision makers and update account plans", Owner: "[Account owner]"},
	},
	models.CategoryStrategicShift: {
		{Priority: models.ActionMedium, Action: "Update the strategic assessment", Owner: "[Strategy lead]"},
	},
	models.CategoryTechnology: {
		{Priority: models.ActionMedium, Action: "Evaluate technology impact on the roadmap", Owner: "[CTO office]"},
	},
}

var actionRank = map[models.ActionPriority]int{
	models.ActionUrgent: 0,
	models.ActionHigh:   1,
	models.ActionMedium: 2,
}

var actionTimeline = map[models.ActionPriority]string{
	models.ActionUrgent: "within 24 hours",
	models.ActionHigh:   "within 1 week",
	models.ActionMedium: "within 30 days",
}

// RootCauseAnalyzer explains an alert from the set of change categories it carries.
type RootCauseAnalyzer struct {
	log *logger.Logger
}

func NewRootCauseAnalyzer(lgr *logger.Logger) *RootCauseAnalyzer {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &RootCauseAnalyzer{log: lgr.With(logger.String("component", "root_cause"))}
}

func (r *RootCauseAnalyzer) Analyze(alert *models.Alert, hist *models.HistoricalContext) models.Explanation {
	cats := models.Categories(alert.Changes)
	present := presentCategories(cats)

	rc := r.rootCause(alert, cats)
	severity := explanationSeverity(alert.Changes)
	impact := assessImpact(severity, present)

	what := make([]string, 0, len(alert.Changes))
	for _, c := range alert.Changes {
		what = append(what, fmt.Sprintf("%s (confidence %.0f%%)", c.Title, c.Confidence*100))
	}

	return models.Explanation{
		Summary:             fmt.Sprintf("%d change(s) detected; likely cause: %s", len(alert.Changes), rc.Pattern),
		WhatHappened:        what,
		WhyItMatters:        whyItMatters(impact),
		RootCause:           rc,
		ContributingFactors: contributingFactors(alert.Changes),
		Severity:            severity,
		Impact:              impact,
		Mitigations:         collectMitigations(present),
		RecommendedActions:  collectActions(present),
		HistoricalContext:   describeHistory(hist),
	}
}

func (r *RootCauseAnalyzer) rootCause(alert *models.Alert, cats map[models.ChangeCategory]int) models.RootCause {
	for _, p := range patterns {
		if p.match(cats, alert.Changes) {
			return models.RootCause{Pattern: p.name, Description: p.describe(cats, alert.Changes), Confidence: p.confidence}
		}
	}
	r.log.Warn("no specific root cause pattern matched",
		logger.String("monitor_id", alert.MonitorID),
		logger.Int("categories", len(cats)),
	)
	return models.RootCause{
		Pattern:     "multiple contributing factors",
		Description: fmt.Sprintf("Multiple contributing factors across %d areas", len(cats)),
		Confidence:  genericConfidence,
	}
}

func presentCategories(cats map[models.ChangeCategory]int) []models.ChangeCategory {
	out := make([]models.ChangeCategory, 0, len(cats))
	for _, c := range models.AllCategories {
		if cats[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

func explanationSeverity(changes []models.Change) string {
	high := 0
	for _, c := range changes {
		if c.Confidence >= highConfidence {
			high++
		}
	}
	switch {
	case high >= 3:
		return "critical"
	case high >= 2:
		return "high"
	case high >= 1:
		return "medium"
	default:
		return "low"
	}
}

func assessImpact(severity string, present []models.ChangeCategory) models.Impact {
	imp := models.Impact{Level: severity, TimeToImpact: models.ImpactMediumTerm, Areas: make([]string, 0, len(present))}
	for _, c := range present {
		if t, ok := timeToImpact[c]; ok && impactRank[t] < impactRank[imp.TimeToImpact] {
			imp.TimeToImpact = t
		}
		imp.Areas = append(imp.Areas, impactAreas[c])
	}
	return imp
}

func whyItMatters(imp models.Impact) string {
	if len(imp.Areas) == 0 {
		return "No material impact identified"
	}
	return fmt.Sprintf("%s impact on %s, expected %s", strings.ToUpper(imp.Level[:1])+imp.Level[1:],
		strings.Join(imp.Areas, ", "), imp.TimeToImpact)
}

func contributingFactors(changes []models.Change) []models.Factor {
	out := make([]models.Factor, 0, len(factorGroups))
	if len(changes) == 0 {
		return out
	}
	for _, g := range factorGroups {
		var titles []string
		for _, c := range changes {
			for _, gc := range g.cats {
				if c.Category == gc {
					titles = append(titles, c.Title)
					break
				}
			}
		}
		if len(titles) == 0 {
			continue
		}
		out = append(out, models.Factor{
			Group:       g.name,
			Description: fmt.Sprintf("%d %s change(s)", len(titles), g.name),
			Changes:     titles,
			Weight:      float64(len(titles)) / float64(len(changes)),
		})
	}
	return out
}

func collectMitigations(present []models.ChangeCategory) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, c := range present {
		for _, m := range mitigations[c] {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func collectActions(present []models.ChangeCategory) []models.Action {
	seen := make(map[string]struct{})
	out := make([]models.Action, 0)
	for _, c := range present {
		for _, a := range actionTemplates[c] {
			if _, ok := seen[a.Action]; ok {
				continue
			}
			seen[a.Action] = struct{}{}
			a.Timeline = actionTimeline[a.Priority]
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return actionRank[out[i].Priority] < actionRank[out[j].Priority] })
	return out
}

func describeHistory(h *models.HistoricalContext) string {
	if h == nil || (h.RecentAlerts == 0 && h.LastAlertAt == nil) {
		return "No prior alerts for this monitor"
	}
	s := fmt.Sprintf("%d alert(s) in the recent window, %d with the same change pattern", h.RecentAlerts, h.SimilarAlerts)
	if h.LastAlertAt != nil {
		s += fmt.Sprintf("; last alert on %s", h.LastAlertAt.UTC().Format("2006-01-02"))
	}
	return s
}
