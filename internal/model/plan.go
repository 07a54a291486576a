package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// GeneratedPlan is the implementation plan recovered from upstream text.
type GeneratedPlan struct {
	ExecutiveSummary   string             `json:"executive_summary"`
	Initiatives        []Initiative       `json:"initiatives"`
	FinancialBreakdown FinancialBreakdown `json:"financial_breakdown"`
	// Validation is filled in by the reconciler, never by the upstream service.
	Validation []string `json:"validation"`
	Notes      string   `json:"notes,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
}

// Initiative is one workstream of a generated plan.
type Initiative struct {
	ID                         string    `json:"id"`
	Title                      string    `json:"title"`
	Priority                   Count     `json:"priority"`
	OwnerRole                  string    `json:"owner_role"`
	StartWeek                  Count     `json:"start_week"`
	DurationWeeks              Count     `json:"duration_weeks"`
	Tasks                      TaskList  `json:"tasks"`
	OneTimeCost                Amount    `json:"one_time_cost"`
	RecurringAnnualCost        Amount    `json:"recurring_annual_cost"`
	ExpectedMonthlyRevenueLift Amount    `json:"expected_monthly_revenue_lift"`
	ROI                        string    `json:"ROI"`
	Confidence                 FlexLabel `json:"confidence"`
	RiskScore                  Amount    `json:"risk_score"`
	Mitigations                []string  `json:"mitigations"`
}

// FinancialBreakdown holds the plan's stated totals and their arithmetic.
// Pointer fields distinguish "not stated" from zero.
type FinancialBreakdown struct {
	TotalInvestment          *Amount           `json:"totalInvestment,omitempty"`
	TotalMonthlyRevenueLift  *Amount           `json:"totalMonthlyRevenueLift,omitempty"`
	TotalAnnualRevenueLift   *Amount           `json:"totalAnnualRevenueLift,omitempty"`
	TotalRecurringAnnualCost *Amount           `json:"totalRecurringAnnualCost,omitempty"`
	ROI                      string            `json:"roi,omitempty"`
	PaybackMonths            string            `json:"paybackMonths,omitempty"`
	Arithmetic               map[string]string `json:"arithmetic,omitempty"`
}

// TaskList decodes a list of task strings. Task objects are flattened to
// their title, name or description.
type TaskList []string

// UnmarshalJSON implements the flattening described on TaskList.
func (t *TaskList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "tasks: expected array")
	}
	out := make(TaskList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return eris.Errorf("tasks: unsupported item %s", string(item))
		}
		for _, key := range []string{"title", "name", "task", "description"} {
			if v, ok := obj[key].(string); ok && v != "" {
				out = append(out, v)
				break
			}
		}
	}
	*t = out
	return nil
}

// FlexLabel is a free-form label that upstream may send as a string, number
// or boolean. It is stored as text.
type FlexLabel string

// UnmarshalJSON implements the lenient decoding described on FlexLabel.
func (l *FlexLabel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "label: decode string")
		}
		*l = FlexLabel(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return eris.Wrap(err, "label: decode bool")
		}
		*l = FlexLabel(strconv.FormatBool(b))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return eris.Errorf("label: unsupported value %s", string(data))
		}
		*l = FlexLabel(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}

// Count is a whole number stated by the upstream service. It decodes from a
// JSON number or a numeric string ("2", "P2"); fractional values are rounded
// to the nearest integer.
type Count int

// UnmarshalJSON implements the lenient decoding described on Count.
func (c *Count) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	var v float64
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "count: decode string")
		}
		s = strings.TrimLeft(strings.TrimSpace(s), "Pp#")
		parsed, err := ParseAmount(s)
		if err != nil {
			return eris.Wrap(err, "count")
		}
		v = parsed
	} else if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "count: decode number")
	}
	if math.Abs(v) > math.MaxInt32 {
		return eris.Errorf("count: %s is out of range", string(data))
	}
	*c = Count(math.Round(v))
	return nil
}

// TotalMonthlyLift sums expected_monthly_revenue_lift across initiatives.
func (p *GeneratedPlan) TotalMonthlyLift() float64 {
	var total float64
	for _, in := range p.Initiatives {
		total += in.ExpectedMonthlyRevenueLift.Float()
	}
	return total
}
