// Package esg evaluates sustainability-linked loan KPIs against their targets.
package esg

import "regexp"

// lowerIsBetter matches KPI types where a smaller reading is the goal.
var lowerIsBetter = regexp.MustCompile(`(?i)emission|water|waste|incident`)

// KPI is one sustainability metric attached to a facility.
type KPI struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	KPIType             string   `json:"kpi_type"`
	TargetValue         float64  `json:"target_value"`
	CurrentValue        *float64 `json:"current_value,omitempty"`
	Unit                string   `json:"unit,omitempty"`
	MarginAdjustmentBps float64  `json:"margin_adjustment_bps"`
}

// LowerIsBetter reports whether the KPI type is met by staying at or under target.
func LowerIsBetter(kpiType string) bool {
	return lowerIsBetter.MatchString(kpiType)
}

// IsTargetMet reports whether kpi meets its target. A KPI without a current
// reading is never met.
func IsTargetMet(kpi KPI) bool {
	if kpi.CurrentValue == nil {
		return false
	}
	if LowerIsBetter(kpi.KPIType) {
		return *kpi.CurrentValue <= kpi.TargetValue
	}
	return *kpi.CurrentValue >= kpi.TargetValue
}

// MarginAdjustment sums the margin adjustment, in basis points, of every met KPI.
func MarginAdjustment(kpis []KPI) float64 {
	total := 0.0
	for _, k := range kpis {
		if IsTargetMet(k) {
			total += k.MarginAdjustmentBps
		}
	}
	return total
}

// Summary aggregates a KPI set.
type Summary struct {
	Total         int     `json:"total"`
	Met           int     `json:"met"`
	Missing       int     `json:"missing"`
	AdjustmentBps float64 `json:"adjustment_bps"`
}

// Summarize counts met and unreported KPIs and totals the margin adjustment.
func Summarize(kpis []KPI) Summary {
	s := Summary{Total: len(kpis)}
	for _, k := range kpis {
		switch {
		case k.CurrentValue == nil:
			s.Missing++
		case IsTargetMet(k):
			s.Met++
			s.AdjustmentBps += k.MarginAdjustmentBps
		}
	}
	return s
}
