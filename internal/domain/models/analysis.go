package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AnalysisRequest is what the check cycle asks the analysis engine for.
type AnalysisRequest struct {
	Subject    string   `json:"subject"`
	Category   string   `json:"category,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Depth      Depth    `json:"depth"`
}

// AnalysisResult is the engine's answer. Metrics that are not numbers, or
// strings that do not parse as numbers, are dropped while decoding.
type AnalysisResult struct {
	FinancialMetrics  FinancialMetrics  `json:"financial_metrics"`
	MarketTrends      []string          `json:"market_trends"`
	CompetitiveForces map[string]string `json:"competitive_forces"`
	StrategicPosition map[string]any    `json:"strategic_position"`
	Sentiment         *float64          `json:"sentiment,omitempty"`
}

type FinancialMetrics map[string]float64

func (f *FinancialMetrics) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(FinancialMetrics, len(raw))
	for k, v := range raw {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			if IsFinite(n) {
				out[k] = n
			}
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && IsFinite(n) {
				out[k] = n
			}
		}
	}
	*f = out
	return nil
}
