// Package reconcile cross-checks a generated plan against the payload it was
// generated from. Findings are human-readable and never change figures.
package reconcile

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// InfoPrefix marks findings that are informational rather than mismatches.
const InfoPrefix = "info: "

// Tolerances bounds the drift allowed between plan and payload.
type Tolerances struct {
	// InvestmentPct is the allowed relative investment difference, in percent.
	InvestmentPct float64 `mapstructure:"investment_pct" yaml:"investment_pct"`
	// MonthlyLift is the allowed absolute monthly lift difference.
	MonthlyLift float64 `mapstructure:"monthly_lift" yaml:"monthly_lift"`
	// ROIPoints is the allowed ROI difference in percentage points.
	ROIPoints float64 `mapstructure:"roi_points" yaml:"roi_points"`
	// ImplausibleROIPct flags any stated ROI above this percentage.
	ImplausibleROIPct float64 `mapstructure:"implausible_roi_pct" yaml:"implausible_roi_pct"`
}

// DefaultTolerances returns the default tolerances.
func DefaultTolerances() Tolerances {
	return Tolerances{
		InvestmentPct:     1,
		MonthlyLift:       500,
		ROIPoints:         5,
		ImplausibleROIPct: 1000,
	}
}

// Validator reconciles plans using a fixed set of tolerances.
type Validator struct {
	tol Tolerances
}

// New creates a Validator. Zero or negative tolerances take their defaults.
func New(tol Tolerances) *Validator {
	def := DefaultTolerances()
	if tol.InvestmentPct <= 0 {
		tol.InvestmentPct = def.InvestmentPct
	}
	if tol.MonthlyLift <= 0 {
		tol.MonthlyLift = def.MonthlyLift
	}
	if tol.ROIPoints <= 0 {
		tol.ROIPoints = def.ROIPoints
	}
	if tol.ImplausibleROIPct <= 0 {
		tol.ImplausibleROIPct = def.ImplausibleROIPct
	}
	return &Validator{tol: tol}
}

// Tolerances returns the tolerances in effect.
func (v *Validator) Tolerances() Tolerances {
	return v.tol
}

// Reconcile checks plan against payload with the default tolerances.
func Reconcile(plan *model.GeneratedPlan, payload *model.OpportunityPayload) []string {
	return New(DefaultTolerances()).Reconcile(plan, payload)
}

// Reconcile returns the findings for plan against payload. An empty slice
// means no issues. Neither argument is modified.
func (v *Validator) Reconcile(plan *model.GeneratedPlan, payload *model.OpportunityPayload) []string {
	findings := []string{}
	if plan == nil || payload == nil {
		return append(findings, "plan or payload missing: nothing to reconcile")
	}

	findings = append(findings, v.checkMonthlyLift(plan, payload)...)

	if Mode(payload) == model.FinancialModeRevenueOnly {
		findings = append(findings, checkLiftSigns(plan)...)
		findings = append(findings, checkPriorities(plan)...)
		if hasCostFields(plan) {
			findings = append(findings, InfoPrefix+"cost fields are present but not authoritative in revenue_only mode")
		}
		return findings
	}

	findings = append(findings, v.checkInvestment(plan, payload)...)
	for _, in := range plan.Initiatives {
		findings = append(findings, v.checkInitiative(in)...)
	}
	findings = append(findings, v.checkStatedROI("financial_breakdown.roi", plan.FinancialBreakdown.ROI)...)
	findings = append(findings, checkPriorities(plan)...)
	return findings
}

// Mode returns the payload's financial mode, falling back to the preferences
// and then to revenue_only.
func Mode(payload *model.OpportunityPayload) model.FinancialMode {
	if payload.Metadata.FinancialMode.Valid() {
		return payload.Metadata.FinancialMode
	}
	if payload.Preferences.FinancialMode.Valid() {
		return payload.Preferences.FinancialMode
	}
	return model.FinancialModeRevenueOnly
}

func (v *Validator) checkMonthlyLift(plan *model.GeneratedPlan, payload *model.OpportunityPayload) []string {
	lift := plan.TotalMonthlyLift()
	delta := payload.SummaryMetrics.MonthlyRevenueDelta
	if diff := math.Abs(lift - delta); diff > v.tol.MonthlyLift {
		return []string{fmt.Sprintf(
			"initiatives expected_monthly_revenue_lift sum %s differs from payload monthlyRevenueDelta %s by %s (tolerance %s)",
			num(lift), num(delta), num(diff), num(v.tol.MonthlyLift))}
	}
	return nil
}

func (v *Validator) checkInvestment(plan *model.GeneratedPlan, payload *model.OpportunityPayload) []string {
	planInv := planInvestment(plan)
	payloadInv := payload.SummaryMetrics.TotalInvestment

	if payloadInv == 0 {
		if planInv != 0 {
			return []string{fmt.Sprintf(
				"plan states investment %s but the payload has no investment", num(planInv))}
		}
		return nil
	}

	pct := math.Abs(planInv-payloadInv) / payloadInv * 100
	if pct > v.tol.InvestmentPct {
		return []string{fmt.Sprintf(
			"financial_breakdown.totalInvestment %s differs from payload totalInvestment %s by %.2f%% (tolerance %s%%)",
			num(planInv), num(payloadInv), pct, num(v.tol.InvestmentPct))}
	}
	return nil
}

func (v *Validator) checkInitiative(in model.Initiative) []string {
	var findings []string
	label := initiativeLabel(in)

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"one_time_cost", in.OneTimeCost.Float()},
		{"recurring_annual_cost", in.RecurringAnnualCost.Float()},
		{"expected_monthly_revenue_lift", in.ExpectedMonthlyRevenueLift.Float()},
	} {
		if f.value < 0 {
			findings = append(findings, fmt.Sprintf("%s: negative %s %s", label, f.name, num(f.value)))
		}
	}

	stated, ok := StatedPercent(in.ROI)
	if !ok {
		if strings.TrimSpace(in.ROI) != "" {
			findings = append(findings, fmt.Sprintf("%s: ROI %q has no numeric value", label, in.ROI))
		}
		return findings
	}

	cost := in.OneTimeCost.Float()
	lift := in.ExpectedMonthlyRevenueLift.Float()
	if cost > 0 {
		expected := lift * 12 / cost * 100
		if diff := math.Abs(stated - expected); diff > v.tol.ROIPoints {
			findings = append(findings, fmt.Sprintf(
				"%s: stated ROI %s%% differs from recomputed (%s * 12) / %s * 100 = %.2f%% by %.2f points (tolerance %s)",
				label, num(stated), num(lift), num(cost), expected, diff, num(v.tol.ROIPoints)))
		}
	}
	return append(findings, v.checkStatedROI(label, in.ROI)...)
}

// checkStatedROI flags the largest percentage anywhere in roi, so a figure
// followed by a horizon ("1500% over 12 months") is still caught.
func (v *Validator) checkStatedROI(label, roi string) []string {
	values := StatedPercents(roi)
	if len(values) == 0 {
		return nil
	}
	highest := values[0]
	for _, val := range values[1:] {
		highest = max(highest, val)
	}
	if highest <= v.tol.ImplausibleROIPct {
		return nil
	}
	return []string{fmt.Sprintf("%s: stated ROI %s%% exceeds the plausibility threshold of %s%%",
		label, num(highest), num(v.tol.ImplausibleROIPct))}
}

func checkLiftSigns(plan *model.GeneratedPlan) []string {
	var findings []string
	for _, in := range plan.Initiatives {
		if lift := in.ExpectedMonthlyRevenueLift.Float(); lift < 0 {
			findings = append(findings, fmt.Sprintf("%s: negative expected_monthly_revenue_lift %s",
				initiativeLabel(in), num(lift)))
		}
	}
	return findings
}

func checkPriorities(plan *model.GeneratedPlan) []string {
	var findings []string
	for _, in := range plan.Initiatives {
		if in.Priority < 1 || in.Priority > 5 {
			findings = append(findings, fmt.Sprintf("%s: priority %d outside 1-5", initiativeLabel(in), in.Priority))
		}
	}
	return findings
}

// hasCostFields reports whether the plan states any cost. Breakdown totals
// count when present, even at zero. Initiative costs decode to zero when
// omitted, so only non-zero values count there.
func hasCostFields(plan *model.GeneratedPlan) bool {
	fb := plan.FinancialBreakdown
	if fb.TotalInvestment != nil || fb.TotalRecurringAnnualCost != nil {
		return true
	}
	for _, in := range plan.Initiatives {
		if in.OneTimeCost != 0 || in.RecurringAnnualCost != 0 {
			return true
		}
	}
	return false
}

// planInvestment is the plan's stated total investment, or the sum of
// initiative one-time costs when no total is stated.
func planInvestment(plan *model.GeneratedPlan) float64 {
	if plan.FinancialBreakdown.TotalInvestment != nil {
		return plan.FinancialBreakdown.TotalInvestment.Float()
	}
	var total float64
	for _, in := range plan.Initiatives {
		total += in.OneTimeCost.Float()
	}
	return total
}

func initiativeLabel(in model.Initiative) string {
	if in.ID != "" {
		return "initiative " + in.ID
	}
	if in.Title != "" {
		return fmt.Sprintf("initiative %q", in.Title)
	}
	return "initiative"
}

var (
	numberPattern  = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
	percentPattern = regexp.MustCompile(`(-?\d[\d,]*(?:\.\d+)?)\s*%`)
)

// StatedPercent extracts the stated value from an ROI string: the last
// percentage in the text, or the last number when nothing carries a percent
// sign. "(10000 * 12) / 25000 * 100 = 480%" yields 480 and "480% over 12
// months" yields 480.
func StatedPercent(roi string) (float64, bool) {
	if values := percentValues(roi); len(values) > 0 {
		return values[len(values)-1], true
	}
	matches := numberPattern.FindAllString(roi, -1)
	if len(matches) == 0 {
		return 0, false
	}
	return parseNumber(matches[len(matches)-1])
}

// StatedPercents returns every percentage stated in roi, in order. When no
// number carries a percent sign it falls back to StatedPercent.
func StatedPercents(roi string) []float64 {
	if values := percentValues(roi); len(values) > 0 {
		return values
	}
	if v, ok := StatedPercent(roi); ok {
		return []float64{v}
	}
	return nil
}

func percentValues(roi string) []float64 {
	var values []float64
	for _, m := range percentPattern.FindAllStringSubmatch(roi, -1) {
		if v, ok := parseNumber(m[1]); ok {
			values = append(values, v)
		}
	}
	return values
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
