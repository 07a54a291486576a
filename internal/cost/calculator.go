package cost

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/pkg/anthropic"
)

// Rates holds per-model token pricing.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator prices upstream token usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the USD cost of one completion call. Unknown models cost 0.
func (c *Calculator) Claude(modelID string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rate(modelID)
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// Usage converts token counts into a priced job usage record.
func (c *Calculator) Usage(modelID string, u anthropic.TokenUsage) *model.JobUsage {
	return &model.JobUsage{
		Model:            modelID,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		CostUSD:          c.Claude(modelID, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens),
	}
}

// rate looks up a model exactly, then by the longest configured key that the
// model id starts with, so dated ids resolve to their family.
func (c *Calculator) rate(modelID string) (ModelRate, bool) {
	if r, ok := c.rates.Anthropic[modelID]; ok {
		return r, true
	}
	best := ""
	for k := range c.rates.Anthropic {
		if strings.HasPrefix(modelID, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Anthropic[best], true
}

// Log records usage and cost with structured fields.
func Log(jobID string, u *model.JobUsage) {
	if u == nil {
		return
	}
	zap.L().Info("cost attribution",
		zap.String("job_id", jobID),
		zap.String("model", u.Model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheWriteTokens),
		zap.Int64("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", u.CostUSD),
	)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}
