package recovery

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// Recover runs the recovery state machine over raw service output:
// strip markup, extract the structured region, parse, repair structure,
// repair text, then validate. It never panics and never fabricates figures.
func Recover(raw string) Result {
	var res Result

	text := StripMarkup(raw)
	if text != strings.TrimSpace(raw) {
		res.Repairs = append(res.Repairs, RepairStripMarkup)
	}
	if text == "" {
		return res.fail(FailureEmptyResponse, StageStripMarkup, "no text after removing markup", nil)
	}

	candidate := ExtractRegion(text)
	if candidate != text {
		res.Repairs = append(res.Repairs, RepairExtractRegion)
	}
	res.Candidate = candidate
	if !strings.Contains(candidate, "{") {
		return res.fail(FailureNoStructure, StageExtractRegion, "no structured region in response", nil)
	}

	if json.Valid([]byte(candidate)) {
		res.Stage = StageDirectParse
		return res.validate(candidate)
	}

	repaired, structural := RepairStructure(candidate)
	if len(structural) > 0 {
		res.Repairs = append(res.Repairs, structural...)
		res.Candidate = repaired
		if json.Valid([]byte(repaired)) {
			res.Stage = StageStructuralRepair
			return res.validate(repaired)
		}
	}

	fixed, textual := RepairText(repaired)
	if len(textual) > 0 {
		// Textual fixes can expose structure the first pass could not see,
		// e.g. a single-quoted string containing a brace.
		rebalanced, again := RepairStructure(fixed)
		res.Repairs = append(res.Repairs, textual...)
		res.Repairs = append(res.Repairs, again...)
		res.Candidate = rebalanced
		if json.Valid([]byte(rebalanced)) {
			res.Stage = StageTextualRepair
			return res.validate(rebalanced)
		}
	}

	var syntaxErr error
	var probe any
	if err := json.Unmarshal([]byte(res.Candidate), &probe); err != nil {
		syntaxErr = err
	}
	kind := classify(candidate)
	return res.fail(kind, StageTextualRepair, describe(kind), syntaxErr)
}

// validate checks the parsed document for the required sections and decodes
// it into a plan. An empty initiatives list is replaced by the fallback plan.
func (res Result) validate(text string) Result {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return res.fail(FailureMissingSections, StageValidate, "top level is not an object", err)
	}

	var missing []string
	var summary string
	if err := json.Unmarshal(doc["executive_summary"], &summary); err != nil || strings.TrimSpace(summary) == "" {
		missing = append(missing, "executive_summary")
	}
	var initiatives []json.RawMessage
	if err := json.Unmarshal(doc["initiatives"], &initiatives); err != nil || isNull(doc["initiatives"]) {
		missing = append(missing, "initiatives")
	}
	var breakdown map[string]json.RawMessage
	if err := json.Unmarshal(doc["financial_breakdown"], &breakdown); err != nil || breakdown == nil {
		missing = append(missing, "financial_breakdown")
	}
	if len(missing) > 0 {
		return res.fail(FailureMissingSections, StageValidate, "missing or empty: "+strings.Join(missing, ", "), nil)
	}

	var plan model.GeneratedPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return res.fail(FailureSchemaMismatch, StageValidate, err.Error(), err)
	}
	plan.Validation = []string{}

	if len(plan.Initiatives) == 0 {
		res.Plan = FallbackPlan("the response contained no initiatives")
		res.Stage = StageFallback
		res.Repairs = append(res.Repairs, RepairFallback)
		return res
	}

	res.Plan = &plan
	return res
}

func (res Result) fail(kind FailureKind, stage Stage, detail string, err error) Result {
	res.Plan = nil
	res.Stage = stage
	f := &Failure{Kind: kind, Stage: stage, Detail: detail}
	if err != nil {
		f.Err = eris.Wrap(err, string(kind))
	}
	res.Failure = f
	return res
}

// classify names the first defect found in the extracted candidate.
func classify(candidate string) FailureKind {
	sc := scanStructure(candidate)
	switch {
	case sc.mismatched:
		return FailureUnbalanced
	case singleQuotePattern.MatchString(candidate):
		return FailureQuoteStyle
	case trailingCommaPattern.MatchString(candidate):
		return FailureTrailingComma
	case !sc.balanced():
		return FailureUnbalanced
	default:
		return FailureUnknown
	}
}

func describe(kind FailureKind) string {
	switch kind {
	case FailureQuoteStyle:
		return "single-quoted keys or values could not be repaired"
	case FailureTrailingComma:
		return "trailing commas could not be repaired"
	case FailureUnbalanced:
		return "brackets could not be balanced"
	default:
		return "response could not be parsed"
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}
