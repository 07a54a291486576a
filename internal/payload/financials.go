package payload

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// Financials computes ROI and payback for a stated investment and the monthly
// lift of the included drivers. Undefined ratios use the insufficient-data
// sentinel, never an infinity.
func Financials(investment, monthlyLift float64) model.OverallFinancials {
	if investment < 0 {
		investment = 0
	}
	f := model.OverallFinancials{
		MonthlyLift: monthlyLift,
		AnnualLift:  monthlyLift * 12,
	}

	switch {
	case investment > 0 && monthlyLift > 0:
		f.ROI = model.MetricOf(round2(monthlyLift * 12 / investment * 100))
		f.PaybackMonths = model.MetricOf(round2(investment / monthlyLift))
		f.ROIArithmetic = fmt.Sprintf("(%s * 12) / %s * 100 = %s%%", num(monthlyLift), num(investment), f.ROI)
		f.PaybackArithmetic = fmt.Sprintf("%s / %s = %s months", num(investment), num(monthlyLift), f.PaybackMonths)
	case investment > 0:
		f.ROI = model.MetricOf(0)
		f.PaybackMonths = model.Insufficient()
		f.ROIArithmetic = fmt.Sprintf("(%s * 12) / %s * 100 = %s%%", num(monthlyLift), num(investment), f.ROI)
		f.PaybackArithmetic = fmt.Sprintf("%s / %s: insufficient data (no monthly lift)", num(investment), num(monthlyLift))
	default:
		f.ROI = model.Insufficient()
		f.PaybackMonths = model.Insufficient()
		f.ROIArithmetic = "investment is 0: insufficient data"
		f.PaybackArithmetic = "investment is 0: insufficient data"
	}
	return f
}

// Tolerance is the allowed drift between a total and its parts:
// max(0.1% of total, 10 currency units).
func Tolerance(total float64) float64 {
	return math.Max(math.Abs(total)*0.001, 10)
}

// CheckInvariant verifies that the included drivers plus the remainder's
// contribution add up to summaryMetrics.monthlyRevenueDelta.
func CheckInvariant(p *model.OpportunityPayload) error {
	if p == nil {
		return eris.New("payload: nil payload")
	}
	var sum float64
	for _, d := range p.IncludedDrivers() {
		sum += d.MonthlyRevenueImpact
	}
	sum += p.OtherItemsSummary.CombinedMonthlyImpact

	total := p.SummaryMetrics.MonthlyRevenueDelta
	if diff := math.Abs(sum - total); diff > Tolerance(total) {
		return eris.Errorf("payload: driver impacts sum to %s but monthlyRevenueDelta is %s (diff %s)",
			num(sum), num(total), num(diff))
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
