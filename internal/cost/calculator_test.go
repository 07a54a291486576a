package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-planner/pkg/anthropic"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet-4-5": {
				Input: 2.00, Output: 10.00,
			},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		input      int64
		output     int64
		cacheWrite int64
		cacheRead  int64
		want       float64
	}{
		{
			name: "haiku simple", model: "haiku",
			input: 1000000, output: 100000,
			want: 0.80 + 0.40,
		},
		{
			name: "sonnet with cache", model: "sonnet",
			input: 100000, output: 10000, cacheWrite: 200000, cacheRead: 500000,
			want: 0.30 + 0.15 + 0.75 + 0.15,
		},
		{
			name: "dated id resolves to longest family", model: "sonnet-4-5-20250929",
			input: 1000000,
			want: 2.00,
		},
		{
			name: "unknown model returns 0", model: "unknown",
			input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name: "zero tokens returns 0", model: "haiku",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	u := calc.Usage("haiku", anthropic.TokenUsage{
		InputTokens:              1000000,
		OutputTokens:             100000,
		CacheCreationInputTokens: 10,
		CacheReadInputTokens:     20,
	})

	require.NotNil(t, u)
	assert.Equal(t, "haiku", u.Model)
	assert.Equal(t, int64(10), u.CacheWriteTokens)
	assert.Equal(t, int64(20), u.CacheReadTokens)
	assert.InDelta(t, 1.20, u.CostUSD, 0.001)

	Log("job-1", u)
	Log("job-2", nil)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5")
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")

	calc := NewCalculator(rates)
	assert.InDelta(t, 3.00, calc.Claude("claude-sonnet-4-5-20250929", 1000000, 0, 0, 0), 0.001)
}
