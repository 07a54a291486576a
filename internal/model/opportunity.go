package model

import (
	"time"
)

// FinancialMode selects which totals are authoritative for a payload and the
// plans generated from it.
type FinancialMode string

const (
	FinancialModeRevenueOnly FinancialMode = "revenue_only"
	FinancialModeCostBearing FinancialMode = "cost_bearing"
)

// Valid reports whether m is a known mode.
func (m FinancialMode) Valid() bool {
	return m == FinancialModeRevenueOnly || m == FinancialModeCostBearing
}

// PayloadSchemaVersion is stamped into every generated payload.
const PayloadSchemaVersion = "2.1"

// ServiceOpportunity is one calculator row: annual current and potential
// revenue for a single service.
type ServiceOpportunity struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	CurrentValue     float64 `json:"currentValue" yaml:"current_value"`
	PotentialValue   float64 `json:"potentialValue" yaml:"potential_value"`
	AdditionalValue  float64 `json:"additionalValue" yaml:"additional_value"`
	GrowthPercentage float64 `json:"growthPercentage" yaml:"growth_percentage"`
}

// PlanPreferences carries the user-entered planning inputs.
type PlanPreferences struct {
	MaxInvestment     float64       `json:"maxInvestment" yaml:"max_investment"`
	TimeHorizonMonths int           `json:"timeHorizonMonths" yaml:"time_horizon_months"`
	PreferredDepth    string        `json:"preferredDepth,omitempty" yaml:"preferred_depth"`
	FinancialMode     FinancialMode `json:"financialMode,omitempty" yaml:"financial_mode"`
}

// OpportunityPayload is the ranked, summarized view of a calculation pass that
// is sent upstream and later used to reconcile the returned plan.
type OpportunityPayload struct {
	Metadata          PayloadMetadata   `json:"metadata"`
	Preferences       PlanPreferences   `json:"preferences"`
	SummaryMetrics    SummaryMetrics    `json:"summaryMetrics"`
	TopDrivers        []Driver          `json:"topDrivers"`
	OtherItemsSummary OtherItemsSummary `json:"otherItemsSummary"`
	OverallFinancials OverallFinancials `json:"overallFinancials"`
}

// PayloadMetadata identifies a payload and carries its integrity checksum.
type PayloadMetadata struct {
	GeneratedAt       time.Time     `json:"generatedAt"`
	SchemaVersion     string        `json:"schemaVersion"`
	FinancialMode     FinancialMode `json:"financial_mode"`
	Checksum          *string       `json:"checksum"`
	ChecksumAlgorithm string        `json:"checksumAlgorithm,omitempty"`
}

// SummaryMetrics holds the deterministic monthly totals of a payload.
type SummaryMetrics struct {
	CurrentMonthlyRevenue   float64  `json:"currentMonthlyRevenue"`
	ProjectedMonthlyRevenue float64  `json:"projectedMonthlyRevenue"`
	MonthlyRevenueDelta     float64  `json:"monthlyRevenueDelta"`
	ItemCount               int      `json:"itemCount"`
	TotalInvestment         float64  `json:"totalInvestment"`
	ComputedFrom            []string `json:"computedFrom"`
}

// Driver is a ranked service opportunity published in payload detail.
type Driver struct {
	Rank                 int     `json:"rank"`
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	CurrentValue         float64 `json:"currentValue"`
	PotentialValue       float64 `json:"potentialValue"`
	AdditionalValue      float64 `json:"additionalValue"`
	GrowthPercentage     float64 `json:"growthPercentage"`
	MonthlyRevenueImpact float64 `json:"monthlyRevenueImpact"`
	AnnualRevenueImpact  float64 `json:"annualRevenueImpact"`
	Included             bool    `json:"included"`
	Assumptions          string  `json:"assumptions"`
}

// OtherItemsSummary aggregates the records ranked below the detail list.
type OtherItemsSummary struct {
	Count int `json:"count"`
	// CombinedMonthlyImpact is the remainder's contribution to monthlyRevenueDelta.
	CombinedMonthlyImpact float64 `json:"combinedMonthlyImpact"`
	ExcludedMonthlyImpact float64 `json:"excludedMonthlyImpact"`
}

// OverallFinancials holds the payload-level ROI and payback figures together
// with the arithmetic that produced them.
type OverallFinancials struct {
	MonthlyLift       float64 `json:"monthlyLift"`
	AnnualLift        float64 `json:"annualLift"`
	ROI               Metric  `json:"roi"`
	PaybackMonths     Metric  `json:"paybackMonths"`
	ROIArithmetic     string  `json:"roiArithmetic"`
	PaybackArithmetic string  `json:"paybackArithmetic"`
}

// IncludedDrivers returns the drivers flagged as included, in rank order.
func (p *OpportunityPayload) IncludedDrivers() []Driver {
	var out []Driver
	for _, d := range p.TopDrivers {
		if d.Included {
			out = append(out, d)
		}
	}
	return out
}
