package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/pkg/anthropic"
)

// systemInstruction is identical for every job so it can be served from the
// prompt cache.
const systemInstruction = `You are a revenue operations planner. You receive an opportunity payload produced by a deterministic calculator and return an implementation plan as a single JSON object.

Rules:
- Respond with JSON only. No prose before or after the object and no markdown fences.
- Never invent numbers. Every figure you state must be derived from the payload, and every derived figure must show its arithmetic.
- Use double quotes for all keys and strings.
- The plan's total monthly revenue lift must match summaryMetrics.monthlyRevenueDelta.
- When metadata.financial_mode is "revenue_only", set every cost field to 0 and do not state an ROI.
- When metadata.financial_mode is "cost_bearing", the plan's total investment must equal summaryMetrics.totalInvestment, and each initiative's ROI must be written as "(expected_monthly_revenue_lift * 12) / one_time_cost * 100 = N%".
- Metrics given as "insufficient_data" must not be replaced with guesses.

Schema:
{
  "executive_summary": string,
  "initiatives": [
    {
      "id": string,
      "title": string,
      "priority": integer 1-5 (1 is highest),
      "owner_role": string,
      "start_week": integer,
      "duration_weeks": integer,
      "tasks": [string],
      "one_time_cost": number,
      "recurring_annual_cost": number,
      "expected_monthly_revenue_lift": number,
      "ROI": string,
      "confidence": "low" | "medium" | "high",
      "risk_score": number 1-10,
      "mitigations": [string]
    }
  ],
  "financial_breakdown": {
    "totalInvestment": number,
    "totalMonthlyRevenueLift": number,
    "totalAnnualRevenueLift": number,
    "totalRecurringAnnualCost": number,
    "roi": string,
    "paybackMonths": string,
    "arithmetic": {string: string}
  },
  "notes": string
}`

var depthGuidance = map[string]string{
	"summary":  "Keep the plan short: at most 3 initiatives with 2-3 tasks each.",
	"standard": "Provide 3-5 initiatives with 3-5 tasks each.",
	"detailed": "Provide 4-7 initiatives with detailed tasks, owners and mitigations.",
}

// buildRequest assembles the completion request for a payload.
func (p *Planner) buildRequest(payload *model.OpportunityPayload) (anthropic.MessageRequest, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return anthropic.MessageRequest{}, eris.Wrap(err, "planner: encode payload")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Financial mode: %s.\n", payload.Metadata.FinancialMode)
	if h := payload.Preferences.TimeHorizonMonths; h > 0 {
		fmt.Fprintf(&b, "Time horizon: %d months.\n", h)
	}
	if g, ok := depthGuidance[payload.Preferences.PreferredDepth]; ok {
		b.WriteString(g)
		b.WriteByte('\n')
	}
	b.WriteString("\nOpportunity payload:\n")
	b.Write(body)

	return anthropic.MessageRequest{
		Model:     p.opts.Model,
		MaxTokens: p.opts.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemInstruction, p.opts.CacheTTL),
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	}, nil
}
