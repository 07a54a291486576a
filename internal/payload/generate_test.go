package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-planner/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func rec(id string, additional float64) model.ServiceOpportunity {
	return model.ServiceOpportunity{
		ID:              id,
		Name:            "Service " + strings.ToUpper(id),
		CurrentValue:    100000,
		PotentialValue:  100000 + additional,
		AdditionalValue: additional,
	}
}

func manyRecords(n int) []model.ServiceOpportunity {
	out := make([]model.ServiceOpportunity, n)
	for i := range out {
		out[i] = rec(fmt.Sprintf("svc-%02d", i), float64((i+1)*12000))
	}
	return out
}

func TestGenerate_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, Generate(nil, model.PlanPreferences{}))
	assert.Nil(t, Generate([]model.ServiceOpportunity{}, model.PlanPreferences{MaxInvestment: 1000}))
}

func TestGenerate_TwoRecordScenario(t *testing.T) {
	g := New(WithClock(fixedClock))
	p := g.Generate([]model.ServiceOpportunity{rec("a", 120000), rec("b", 12000)},
		model.PlanPreferences{MaxInvestment: 55000})
	require.NotNil(t, p)

	require.Len(t, p.TopDrivers, 2)
	assert.Equal(t, "a", p.TopDrivers[0].ID)
	assert.InDelta(t, 10000, p.TopDrivers[0].MonthlyRevenueImpact, 0.001)
	assert.InDelta(t, 120000, p.TopDrivers[0].AnnualRevenueImpact, 0.001)
	assert.InDelta(t, 1000, p.TopDrivers[1].MonthlyRevenueImpact, 0.001)
	assert.True(t, p.TopDrivers[0].Included)
	assert.True(t, p.TopDrivers[1].Included)

	assert.InDelta(t, 11000, p.SummaryMetrics.MonthlyRevenueDelta, 0.001)
	assert.Equal(t, 2, p.SummaryMetrics.ItemCount)
	assert.Equal(t, []string{"a", "b"}, p.SummaryMetrics.ComputedFrom)
	assert.InDelta(t, 55000, p.SummaryMetrics.TotalInvestment, 0.001)

	f := p.OverallFinancials
	require.True(t, f.ROI.Valid)
	assert.InDelta(t, 240, f.ROI.Value, 0.001)
	require.True(t, f.PaybackMonths.Valid)
	assert.InDelta(t, 5.0, f.PaybackMonths.Value, 0.001)
	assert.Equal(t, "(11000 * 12) / 55000 * 100 = 240.00%", f.ROIArithmetic)
	assert.Equal(t, "55000 / 11000 = 5.00 months", f.PaybackArithmetic)

	assert.Equal(t, model.FinancialModeCostBearing, p.Metadata.FinancialMode)
	assert.Equal(t, model.PayloadSchemaVersion, p.Metadata.SchemaVersion)
	assert.Equal(t, fixedNow, p.Metadata.GeneratedAt)
	require.NoError(t, CheckInvariant(p))
}

func TestGenerate_CurrentAndProjectedRevenue(t *testing.T) {
	p := New(WithClock(fixedClock)).Generate([]model.ServiceOpportunity{rec("a", 120000), rec("b", 12000)},
		model.PlanPreferences{})
	require.NotNil(t, p)
	// 2 * 100000 / 12 = 16666.67 -> 16667
	assert.InDelta(t, 16667, p.SummaryMetrics.CurrentMonthlyRevenue, 0.001)
	assert.InDelta(t, 16667+11000, p.SummaryMetrics.ProjectedMonthlyRevenue, 0.001)
}

func TestGenerate_TopSixIncludedTopEightPublished(t *testing.T) {
	p := New(WithClock(fixedClock)).Generate(manyRecords(11), model.PlanPreferences{})
	require.NotNil(t, p)

	require.Len(t, p.TopDrivers, 8)
	for i, d := range p.TopDrivers {
		assert.Equal(t, i+1, d.Rank)
		assert.Equal(t, i < 6, d.Included, "driver %d", i)
	}
	// Highest additional value first.
	assert.Equal(t, "svc-10", p.TopDrivers[0].ID)

	assert.Equal(t, 3, p.OtherItemsSummary.Count)
	assert.Zero(t, p.OtherItemsSummary.CombinedMonthlyImpact)
	// Remainder is svc-00..svc-02: 1000 + 2000 + 3000.
	assert.InDelta(t, 6000, p.OtherItemsSummary.ExcludedMonthlyImpact, 0.001)

	// Included: svc-10..svc-05 -> 11000+10000+9000+8000+7000+6000.
	assert.InDelta(t, 51000, p.SummaryMetrics.MonthlyRevenueDelta, 0.001)
	assert.Len(t, p.SummaryMetrics.ComputedFrom, 6)
	assert.Equal(t, 11, p.SummaryMetrics.ItemCount)
	require.NoError(t, CheckInvariant(p))
}

func TestGenerate_InvariantWhenIncludedExceedsDetail(t *testing.T) {
	g := New(WithClock(fixedClock), WithOptions(Options{IncludedDrivers: 5, DetailDrivers: 3}))
	p := g.Generate(manyRecords(7), model.PlanPreferences{})
	require.NotNil(t, p)

	assert.Len(t, p.TopDrivers, 3)
	assert.Equal(t, 4, p.OtherItemsSummary.Count)
	// Ranks 4 and 5 are included but only summarized: 4000 + 3000.
	assert.InDelta(t, 7000, p.OtherItemsSummary.CombinedMonthlyImpact, 0.001)
	// Ranks 6 and 7: 2000 + 1000.
	assert.InDelta(t, 3000, p.OtherItemsSummary.ExcludedMonthlyImpact, 0.001)
	require.NoError(t, CheckInvariant(p))
}

func TestGenerate_InvariantAcrossSizes(t *testing.T) {
	for n := 1; n <= 20; n++ {
		p := New(WithClock(fixedClock)).Generate(manyRecords(n), model.PlanPreferences{MaxInvestment: 1000})
		require.NotNil(t, p)
		assert.NoError(t, CheckInvariant(p), "n=%d", n)
	}
}

func TestCheckInvariant_DetectsDrift(t *testing.T) {
	p := New(WithClock(fixedClock)).Generate(manyRecords(4), model.PlanPreferences{})
	require.NotNil(t, p)
	p.SummaryMetrics.MonthlyRevenueDelta += 50
	assert.Error(t, CheckInvariant(p))
	assert.Error(t, CheckInvariant(nil))
}

func TestGenerate_SelectionIsRankPure(t *testing.T) {
	base := []model.ServiceOpportunity{
		rec("a", 24000), rec("b", 96000), rec("c", 12000), rec("d", 60000),
		rec("e", 36000), rec("f", 84000), rec("g", 48000), rec("h", 72000),
	}
	renamed := make([]model.ServiceOpportunity, len(base))
	for i, r := range base {
		r.ID = fmt.Sprintf("zz-%d", i)
		r.Name = "Website Redesign"
		renamed[i] = r
	}

	g := New(WithClock(fixedClock))
	p1 := g.Generate(base, model.PlanPreferences{})
	p2 := g.Generate(renamed, model.PlanPreferences{})
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	require.Equal(t, len(p1.TopDrivers), len(p2.TopDrivers))
	for i := range p1.TopDrivers {
		assert.Equal(t, p1.TopDrivers[i].Included, p2.TopDrivers[i].Included)
		assert.Equal(t, p1.TopDrivers[i].MonthlyRevenueImpact, p2.TopDrivers[i].MonthlyRevenueImpact)
	}
	assert.Equal(t, p1.SummaryMetrics.MonthlyRevenueDelta, p2.SummaryMetrics.MonthlyRevenueDelta)
}

func TestRank_StableTies(t *testing.T) {
	ranked := Rank([]model.ServiceOpportunity{rec("x", 1200), rec("y", 24000), rec("z", 1200), rec("w", 1200)})
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Record.ID
	}
	assert.Equal(t, []string{"y", "x", "z", "w"}, ids)
}

func TestMonthlyDelta_Rounds(t *testing.T) {
	assert.InDelta(t, 10000, MonthlyDelta(120000), 0.001)
	assert.InDelta(t, 833, MonthlyDelta(10000), 0.001)
	assert.InDelta(t, 1, MonthlyDelta(6), 0.001)
}

func TestFinancials_ZeroLiftUsesSentinel(t *testing.T) {
	f := Financials(55000, 0)
	require.True(t, f.ROI.Valid)
	assert.Zero(t, f.ROI.Value)
	assert.False(t, f.PaybackMonths.Valid)
	assert.Contains(t, f.PaybackArithmetic, "insufficient data")
}

func TestFinancials_ZeroInvestmentUsesSentinel(t *testing.T) {
	f := Financials(0, 11000)
	assert.False(t, f.ROI.Valid)
	assert.False(t, f.PaybackMonths.Valid)
	assert.InDelta(t, 132000, f.AnnualLift, 0.001)
}

func TestGenerate_SentinelNeverInfinity(t *testing.T) {
	records := []model.ServiceOpportunity{rec("a", 0), rec("b", 0)}
	p := New(WithClock(fixedClock)).Generate(records, model.PlanPreferences{MaxInvestment: 10000})
	require.NotNil(t, p)
	assert.False(t, p.OverallFinancials.PaybackMonths.Valid)
	assert.False(t, math.IsInf(p.OverallFinancials.PaybackMonths.Value, 0))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"paybackMonths":"insufficient_data"`)
	assert.NotContains(t, string(data), "Inf")
}

func TestGenerate_ModeDefaults(t *testing.T) {
	g := New(WithClock(fixedClock))
	p := g.Generate(manyRecords(2), model.PlanPreferences{})
	assert.Equal(t, model.FinancialModeRevenueOnly, p.Metadata.FinancialMode)
	assert.Equal(t, 12, p.Preferences.TimeHorizonMonths)
	assert.Equal(t, "standard", p.Preferences.PreferredDepth)

	p = g.Generate(manyRecords(2), model.PlanPreferences{MaxInvestment: 5000, FinancialMode: model.FinancialModeRevenueOnly})
	assert.Equal(t, model.FinancialModeRevenueOnly, p.Metadata.FinancialMode)
}

func TestGenerate_Assumptions(t *testing.T) {
	p := New(WithClock(fixedClock)).Generate([]model.ServiceOpportunity{rec("a", 120000)}, model.PlanPreferences{})
	require.NotNil(t, p)
	assert.Contains(t, p.TopDrivers[0].Assumptions, "$120,000")
	assert.Contains(t, p.TopDrivers[0].Assumptions, "$10,000 per month")
}

func TestChecksum_Deterministic(t *testing.T) {
	g := New(WithClock(fixedClock))
	p1 := g.Generate(manyRecords(9), model.PlanPreferences{MaxInvestment: 1000})
	p2 := g.Generate(manyRecords(9), model.PlanPreferences{MaxInvestment: 1000})
	require.NotNil(t, p1.Metadata.Checksum)
	assert.Equal(t, *p1.Metadata.Checksum, *p2.Metadata.Checksum)
	assert.True(t, strings.HasPrefix(*p1.Metadata.Checksum, "sha256:"))
	assert.Equal(t, "sha256", p1.Metadata.ChecksumAlgorithm)

	p3 := g.Generate(manyRecords(10), model.PlanPreferences{MaxInvestment: 1000})
	assert.NotEqual(t, *p1.Metadata.Checksum, *p3.Metadata.Checksum)
}

func TestChecksum_FNVFallback(t *testing.T) {
	g := New(WithClock(fixedClock), WithHash("", nil))
	p := g.Generate(manyRecords(3), model.PlanPreferences{})
	require.NotNil(t, p.Metadata.Checksum)
	assert.True(t, strings.HasPrefix(*p.Metadata.Checksum, "fnv1a32:"))
	// 4 bytes hex encoded.
	assert.Len(t, strings.TrimPrefix(*p.Metadata.Checksum, "fnv1a32:"), 8)
}

type failingHash struct{ hash.Hash }

func (failingHash) Write([]byte) (int, error) { return 0, errors.New("hash unavailable") }

func TestChecksum_FailureEmitsNull(t *testing.T) {
	g := New(WithClock(fixedClock), WithHash("broken", func() hash.Hash { return failingHash{} }))
	p := g.Generate(manyRecords(3), model.PlanPreferences{})
	require.NotNil(t, p)
	assert.Nil(t, p.Metadata.Checksum)

	data, err := json.Marshal(p.Metadata)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"checksum":null`)
}

func TestChecksum_PanicEmitsNull(t *testing.T) {
	g := New(WithClock(fixedClock), WithHash("nilhash", func() hash.Hash { return nil }))
	p := g.Generate(manyRecords(2), model.PlanPreferences{})
	require.NotNil(t, p)
	assert.Nil(t, p.Metadata.Checksum)
}
