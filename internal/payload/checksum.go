package payload

import (
	"encoding/hex"
	"encoding/json"
	"hash"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/model"
)

const fallbackHashName = "fnv1a32"

type checksumDriver struct {
	ID       string  `json:"id"`
	Monthly  float64 `json:"monthly"`
	Annual   float64 `json:"annual"`
	Included bool    `json:"included"`
}

type checksumProjection struct {
	Drivers     []checksumDriver        `json:"drivers"`
	Other       model.OtherItemsSummary `json:"other"`
	Summary     model.SummaryMetrics    `json:"summary"`
	GeneratedAt string                  `json:"generatedAt"`
}

// checksum hashes a stable projection of p. It returns nil instead of
// failing so that hashing problems never block payload emission.
func (g *Generator) checksum(p *model.OpportunityPayload) (sum *string, algorithm string) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("payload: checksum failed", zap.Any("panic", r))
			sum, algorithm = nil, ""
		}
	}()

	proj := checksumProjection{
		Drivers:     make([]checksumDriver, 0, len(p.TopDrivers)),
		Other:       p.OtherItemsSummary,
		Summary:     p.SummaryMetrics,
		GeneratedAt: p.Metadata.GeneratedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, d := range p.TopDrivers {
		proj.Drivers = append(proj.Drivers, checksumDriver{
			ID:       d.ID,
			Monthly:  d.MonthlyRevenueImpact,
			Annual:   d.AnnualRevenueImpact,
			Included: d.Included,
		})
	}

	data, err := json.Marshal(proj)
	if err != nil {
		zap.L().Warn("payload: encode checksum projection", zap.Error(err))
		return nil, ""
	}

	algorithm = g.hashName
	newHash := g.newHash
	if newHash == nil {
		algorithm = fallbackHashName
		newHash = func() hash.Hash { return fnv.New32a() }
	}

	h := newHash()
	if _, err := h.Write(data); err != nil {
		zap.L().Warn("payload: write checksum", zap.Error(err))
		return nil, ""
	}
	out := algorithm + ":" + hex.EncodeToString(h.Sum(nil))
	return &out, algorithm
}
