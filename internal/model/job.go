package model

import (
	"time"
)

// JobStatus represents the current state of a planning job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// JobErrorKind classifies why a job ended in error.
type JobErrorKind string

const (
	JobErrorInput             JobErrorKind = "input"
	JobErrorTransientUpstream JobErrorKind = "transient_upstream"
	JobErrorFatalUpstream     JobErrorKind = "fatal_upstream"
	JobErrorRecovery          JobErrorKind = "recovery"
	JobErrorStore             JobErrorKind = "store"
)

// Job is a single plan-generation request tracked in the job store.
type Job struct {
	ID          string              `json:"id"`
	Status      JobStatus           `json:"status"`
	Payload     *OpportunityPayload `json:"payload,omitempty"`
	Plan        *GeneratedPlan      `json:"plan,omitempty"`
	Error       *JobError           `json:"error,omitempty"`
	Attempts    int                 `json:"attempts"`
	Repairs     []string            `json:"repairs,omitempty"`
	Usage       *JobUsage           `json:"usage,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// JobError describes a terminal job failure.
type JobError struct {
	Kind    JobErrorKind `json:"kind"`
	Message string       `json:"message"`
	// RecoveryFailure is the recovery classification when Kind is "recovery".
	RecoveryFailure string `json:"recovery_failure,omitempty"`
	StatusCode      int    `json:"status_code,omitempty"`
}

// JobUsage records token consumption for the upstream call.
type JobUsage struct {
	Model            string  `json:"model"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}
