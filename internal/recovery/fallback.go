package recovery

import "github.com/sells-group/opportunity-planner/internal/model"

// FallbackPlan returns a static plan used when the service produced no usable
// initiatives or could not be reached. All figures are zero: the fallback
// never invents financials, so reconciliation flags the gap against the payload.
func FallbackPlan(reason string) *model.GeneratedPlan {
	zero := model.Amount(0)
	return &model.GeneratedPlan{
		ExecutiveSummary: "An automated plan could not be generated for this opportunity set. " +
			"The initiatives below are a standard starting sequence; financial figures are not estimated " +
			"and should be taken from the opportunity payload.",
		Initiatives: []model.Initiative{
			{
				ID:            "fallback-1",
				Title:         "Validate opportunity sizing",
				Priority:      1,
				OwnerRole:     "Finance Lead",
				StartWeek:     1,
				DurationWeeks: 2,
				Tasks: model.TaskList{
					"Confirm current and potential values for the top drivers",
					"Agree the investment ceiling with stakeholders",
				},
				ROI:         "not estimated",
				Confidence:  "low",
				Mitigations: []string{"Re-run plan generation once inputs are confirmed"},
			},
			{
				ID:            "fallback-2",
				Title:         "Prioritize the top revenue drivers",
				Priority:      2,
				OwnerRole:     "Revenue Operations",
				StartWeek:     3,
				DurationWeeks: 4,
				Tasks: model.TaskList{
					"Rank included drivers by monthly revenue impact",
					"Assign an owner to each included driver",
				},
				ROI:         "not estimated",
				Confidence:  "low",
				Mitigations: []string{"Limit scope to the included drivers"},
			},
			{
				ID:            "fallback-3",
				Title:         "Pilot and measure",
				Priority:      3,
				OwnerRole:     "Service Line Manager",
				StartWeek:     7,
				DurationWeeks: 6,
				Tasks: model.TaskList{
					"Launch a pilot for the highest-impact driver",
					"Track monthly revenue against the payload projection",
				},
				ROI:         "not estimated",
				Confidence:  "low",
				Mitigations: []string{"Stop the pilot if lift is not visible after two months"},
			},
		},
		FinancialBreakdown: model.FinancialBreakdown{
			TotalInvestment:         &zero,
			TotalMonthlyRevenueLift: &zero,
			Arithmetic: map[string]string{
				"note": "fallback plan: no figures estimated",
			},
		},
		Validation: []string{},
		Notes:      "Fallback plan substituted: " + reason,
		Fallback:   true,
	}
}
