// Package recovery turns raw text from the plan-generation service into a
// structured plan. Repairs are structural only; financial figures are never
// substituted or guessed.
package recovery

import (
	"fmt"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// Stage names a step of the recovery state machine.
type Stage string

const (
	StageStripMarkup      Stage = "strip-markup"
	StageExtractRegion    Stage = "extract-region"
	StageDirectParse      Stage = "direct-parse"
	StageStructuralRepair Stage = "structural-repair"
	StageTextualRepair    Stage = "textual-repair"
	StageValidate         Stage = "validate"
	StageFallback         Stage = "fallback"
)

// FailureKind classifies why recovery failed.
type FailureKind string

const (
	FailureEmptyResponse   FailureKind = "empty-response"
	FailureNoStructure     FailureKind = "no-structure"
	FailureQuoteStyle      FailureKind = "quote-style"
	FailureTrailingComma   FailureKind = "trailing-comma"
	FailureUnbalanced      FailureKind = "unbalanced-structure"
	FailureUnknown         FailureKind = "unknown"
	FailureMissingSections FailureKind = "missing-sections"
	FailureSchemaMismatch  FailureKind = "schema-mismatch"
)

// Repair names recorded in Result.Repairs.
const (
	RepairStripMarkup   = "strip-markup"
	RepairExtractRegion = "extract-region"
	RepairAppendClosers = "append-closers"
	RepairTrimClosers   = "trim-closers"
	RepairCloseString   = "close-string"
	RepairTrailingComma = "trailing-commas"
	RepairSingleQuotes  = "single-quotes"
	RepairBareValues    = "bare-values"
	RepairFallback      = "fallback-substituted"
)

// Failure is a classified recovery failure. It implements error so callers
// can wrap it, but branching should use Kind.
type Failure struct {
	Kind   FailureKind
	Stage  Stage
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("recovery: %s at %s: %s", f.Kind, f.Stage, f.Detail)
	}
	return fmt.Sprintf("recovery: %s at %s", f.Kind, f.Stage)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the tagged outcome of Recover: exactly one of Plan or Failure is set.
type Result struct {
	Plan    *model.GeneratedPlan
	Failure *Failure
	// Stage is the terminal stage reached.
	Stage Stage
	// Repairs lists the repairs applied, in order.
	Repairs []string
	// Candidate is the last text handed to the parser.
	Candidate string
}

// OK reports whether recovery produced a plan.
func (r Result) OK() bool {
	return r.Plan != nil && r.Failure == nil
}

// Substituted reports whether the static fallback plan replaced an empty one.
func (r Result) Substituted() bool {
	return r.Plan != nil && r.Plan.Fallback
}
