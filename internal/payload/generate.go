// Package payload turns calculator rows into a ranked, summarized opportunity
// payload with deterministic totals and an integrity checksum.
package payload

import (
	"cmp"
	"crypto/sha256"
	"hash"
	"math"
	"slices"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// Options controls driver selection.
type Options struct {
	// IncludedDrivers is how many top-ranked records count toward totals. Default: 6.
	IncludedDrivers int
	// DetailDrivers is how many top-ranked records are published in detail. Default: 8.
	DetailDrivers int
}

// DefaultOptions returns the standard selection sizes.
func DefaultOptions() Options {
	return Options{IncludedDrivers: 6, DetailDrivers: 8}
}

// Generator builds payloads. The zero value is not usable; call New.
type Generator struct {
	opts     Options
	nowFunc  func() time.Time
	newHash  func() hash.Hash
	hashName string
}

// Option configures a Generator.
type Option func(*Generator)

// WithOptions overrides the driver selection sizes.
func WithOptions(opts Options) Option {
	return func(g *Generator) {
		if opts.IncludedDrivers > 0 {
			g.opts.IncludedDrivers = opts.IncludedDrivers
		}
		if opts.DetailDrivers > 0 {
			g.opts.DetailDrivers = opts.DetailDrivers
		}
	}
}

// WithClock sets the clock used for metadata.generatedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.nowFunc = now }
}

// WithHash sets the checksum hash. A nil constructor selects the FNV-1a fallback.
func WithHash(algorithm string, fn func() hash.Hash) Option {
	return func(g *Generator) {
		g.hashName = algorithm
		g.newHash = fn
	}
}

// New creates a Generator using SHA-256 checksums and the wall clock.
func New(opts ...Option) *Generator {
	g := &Generator{
		opts:     DefaultOptions(),
		nowFunc:  time.Now,
		newHash:  sha256.New,
		hashName: "sha256",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate builds a payload with default settings. See Generator.Generate.
func Generate(records []model.ServiceOpportunity, prefs model.PlanPreferences) *model.OpportunityPayload {
	return New().Generate(records, prefs)
}

// RankedRecord pairs a record with its rounded monthly delta.
type RankedRecord struct {
	Record  model.ServiceOpportunity
	Monthly float64
}

// Generate aggregates records into a payload. It returns nil when records is
// empty; callers must not proceed to plan generation in that case.
func (g *Generator) Generate(records []model.ServiceOpportunity, prefs model.PlanPreferences) *model.OpportunityPayload {
	if len(records) == 0 {
		return nil
	}

	ranked := Rank(records)
	prefs = normalizePreferences(prefs)
	printer := message.NewPrinter(language.English)

	var (
		drivers      []model.Driver
		other        model.OtherItemsSummary
		computedFrom []string
		delta        float64
		current      float64
	)
	for _, r := range records {
		current += r.CurrentValue
	}

	for i, r := range ranked {
		included := i < g.opts.IncludedDrivers
		if included {
			delta += r.Monthly
			computedFrom = append(computedFrom, r.Record.ID)
		}

		if i >= g.opts.DetailDrivers {
			other.Count++
			if included {
				other.CombinedMonthlyImpact += r.Monthly
			} else {
				other.ExcludedMonthlyImpact += r.Monthly
			}
			continue
		}

		drivers = append(drivers, model.Driver{
			Rank:                 i + 1,
			ID:                   r.Record.ID,
			Name:                 r.Record.Name,
			CurrentValue:         r.Record.CurrentValue,
			PotentialValue:       r.Record.PotentialValue,
			AdditionalValue:      r.Record.AdditionalValue,
			GrowthPercentage:     r.Record.GrowthPercentage,
			MonthlyRevenueImpact: r.Monthly,
			AnnualRevenueImpact:  r.Monthly * 12,
			Included:             included,
			Assumptions:          assumptions(printer, r),
		})
	}

	currentMonthly := math.Round(current / 12)
	summary := model.SummaryMetrics{
		CurrentMonthlyRevenue:   currentMonthly,
		ProjectedMonthlyRevenue: currentMonthly + delta,
		MonthlyRevenueDelta:     delta,
		ItemCount:               len(records),
		TotalInvestment:         prefs.MaxInvestment,
		ComputedFrom:            computedFrom,
	}

	generatedAt := g.nowFunc().UTC()
	p := &model.OpportunityPayload{
		Metadata: model.PayloadMetadata{
			GeneratedAt:   generatedAt,
			SchemaVersion: model.PayloadSchemaVersion,
			FinancialMode: prefs.FinancialMode,
		},
		Preferences:       prefs,
		SummaryMetrics:    summary,
		TopDrivers:        drivers,
		OtherItemsSummary: other,
		OverallFinancials: Financials(prefs.MaxInvestment, delta),
	}

	p.Metadata.Checksum, p.Metadata.ChecksumAlgorithm = g.checksum(p)
	return p
}

// Rank computes monthly deltas and orders records by them, descending. Ties
// keep input order. Selection never looks at ids or names.
func Rank(records []model.ServiceOpportunity) []RankedRecord {
	ranked := make([]RankedRecord, len(records))
	for i, r := range records {
		ranked[i] = RankedRecord{Record: r, Monthly: MonthlyDelta(r.AdditionalValue)}
	}
	slices.SortStableFunc(ranked, func(a, b RankedRecord) int {
		return cmp.Compare(b.Monthly, a.Monthly)
	})
	return ranked
}

// MonthlyDelta converts an annual additional value into a rounded monthly figure.
func MonthlyDelta(additionalValue float64) float64 {
	return math.Round(additionalValue / 12)
}

func normalizePreferences(prefs model.PlanPreferences) model.PlanPreferences {
	if prefs.MaxInvestment < 0 {
		prefs.MaxInvestment = 0
	}
	if prefs.TimeHorizonMonths <= 0 {
		prefs.TimeHorizonMonths = 12
	}
	if prefs.PreferredDepth == "" {
		prefs.PreferredDepth = "standard"
	}
	if !prefs.FinancialMode.Valid() {
		prefs.FinancialMode = model.FinancialModeRevenueOnly
		if prefs.MaxInvestment > 0 {
			prefs.FinancialMode = model.FinancialModeCostBearing
		}
	}
	return prefs
}

func assumptions(p *message.Printer, r RankedRecord) string {
	return p.Sprintf("Annual uplift of $%d (potential $%d - current $%d) spread evenly over 12 months: %d / 12 = $%d per month.",
		int64(math.Round(r.Record.AdditionalValue)),
		int64(math.Round(r.Record.PotentialValue)),
		int64(math.Round(r.Record.CurrentValue)),
		int64(math.Round(r.Record.AdditionalValue)),
		int64(r.Monthly),
	)
}
