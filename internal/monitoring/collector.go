package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/reconcile"
	"github.com/sells-group/opportunity-planner/internal/resilience"
	"github.com/sells-group/opportunity-planner/internal/store"
)

// MetricsSnapshot holds a point-in-time view of planning job health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal    int     `json:"jobs_total"`
	JobsPending  int     `json:"jobs_pending"`
	JobsComplete int     `json:"jobs_complete"`
	JobsErrored  int     `json:"jobs_errored"`
	ErrorRate    float64 `json:"error_rate"`
	Fallbacks    int     `json:"fallbacks"`
	FallbackRate float64 `json:"fallback_rate"`
	AvgAttempts  float64 `json:"avg_attempts"`
	CostUSD      float64 `json:"cost_usd"`

	// ErrorKinds counts terminal errors by kind.
	ErrorKinds map[string]int `json:"error_kinds"`
	// RecoveryFailures counts recovery errors by classification.
	RecoveryFailures map[string]int `json:"recovery_failures"`
	// Repairs counts how often each recovery repair was applied.
	Repairs map[string]int `json:"repairs"`

	Findings     int `json:"findings"`
	InfoFindings int `json:"info_findings"`

	// SkippedEntries counts stored values that could not be decoded as jobs.
	SkippedEntries int `json:"skipped_entries"`

	Circuit *resilience.CircuitSnapshot `json:"circuit,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of jobs in a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.JobsComplete + s.JobsErrored
}

// BreakerSource exposes the upstream circuit breaker state.
type BreakerSource interface {
	Snapshot() resilience.CircuitSnapshot
}

// Collector gathers metrics from the job store.
type Collector struct {
	store   store.Store
	breaker BreakerSource
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. breaker may be nil when the
// collector runs outside the serving process.
func NewCollector(st store.Store, breaker BreakerSource) *Collector {
	return &Collector{store: st, breaker: breaker, nowFunc: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
// A non-positive window covers every stored job.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		ErrorKinds:       map[string]int{},
		RecoveryFailures: map[string]int{},
		Repairs:          map[string]int{},
		LookbackHours:    lookbackHours,
		CollectedAt:      now,
	}

	jobs, skipped, err := store.ListJobs(ctx, c.store)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}
	snap.SkippedEntries = skipped

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	totalAttempts := 0
	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		totalAttempts += j.Attempts

		switch j.Status {
		case model.JobStatusPending:
			snap.JobsPending++
		case model.JobStatusComplete:
			snap.JobsComplete++
		case model.JobStatusError:
			snap.JobsErrored++
		}

		if j.Error != nil {
			snap.ErrorKinds[string(j.Error.Kind)]++
			if j.Error.RecoveryFailure != "" {
				snap.RecoveryFailures[j.Error.RecoveryFailure]++
			}
		}
		for _, r := range j.Repairs {
			snap.Repairs[r]++
		}
		if j.Plan != nil {
			if j.Plan.Fallback {
				snap.Fallbacks++
			}
			for _, f := range j.Plan.Validation {
				if strings.HasPrefix(f, reconcile.InfoPrefix) {
					snap.InfoFindings++
				} else {
					snap.Findings++
				}
			}
		}
		if j.Usage != nil {
			snap.CostUSD += j.Usage.CostUSD
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.ErrorRate = float64(snap.JobsErrored) / float64(finished)
		snap.FallbackRate = float64(snap.Fallbacks) / float64(finished)
	}
	if snap.JobsTotal > 0 {
		snap.AvgAttempts = float64(totalAttempts) / float64(snap.JobsTotal)
	}

	if c.breaker != nil {
		cs := c.breaker.Snapshot()
		snap.Circuit = &cs
	}

	return snap, nil
}
