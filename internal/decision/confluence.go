package decision

import "github.com/mstanton/tradepulse/internal/models"

// Confluence category thresholds.
const (
	confluenceHigh   = 0.7
	confluenceMedium = 0.5
)

// ConfluenceCategory buckets a score for reporting.
type ConfluenceCategory string

const (
	// ConfluenceHighCat marks strong agreement (score >= 0.7).
	ConfluenceHighCat ConfluenceCategory = "HIGH"
	// ConfluenceMediumCat marks moderate agreement (score >= 0.5).
	ConfluenceMediumCat ConfluenceCategory = "MEDIUM"
	// ConfluenceLowCat marks weak agreement.
	ConfluenceLowCat ConfluenceCategory = "LOW"
)

// SourceWeights assigns per-source credibility weights for confluence.
type SourceWeights map[models.SignalSource]float64

// DefaultSourceWeights are the standard credibility weights.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{
		models.SourceTradingView: 1.0,
		models.SourceGEX:         0.9,
		models.SourceMTF:         0.85,
		models.SourceManual:      0.7,
	}
}

// ConfluenceCalculator scores weighted agreement among signals on the same
// instrument and timeframe.
type ConfluenceCalculator struct {
	weights SourceWeights
}

// NewConfluenceCalculator creates a calculator; nil weights use the defaults.
func NewConfluenceCalculator(weights SourceWeights) *ConfluenceCalculator {
	if weights == nil {
		weights = DefaultSourceWeights()
	}
	return &ConfluenceCalculator{weights: weights}
}

// Score returns sum(weight of agreeing peers) / sum(weight of all peers) in
// [0, 1]. Only peers matching the target's symbol and timeframe contribute;
// an empty pool scores 0.
func (c *ConfluenceCalculator) Score(target *models.Signal, peers []models.Signal) float64 {
	var total, agreeing float64
	for i := range peers {
		p := &peers[i]
		if p.Symbol != target.Symbol || p.Timeframe != target.Timeframe {
			continue
		}
		if p.ID != "" && p.ID == target.ID {
			continue
		}
		w := c.weight(p.Source)
		total += w
		if p.Direction == target.Direction {
			agreeing += w
		}
	}
	if total == 0 {
		return 0
	}
	return agreeing / total
}

// Category buckets a confluence score.
func Category(score float64) ConfluenceCategory {
	switch {
	case score >= confluenceHigh:
		return ConfluenceHighCat
	case score >= confluenceMedium:
		return ConfluenceMediumCat
	default:
		return ConfluenceLowCat
	}
}

func (c *ConfluenceCalculator) weight(source models.SignalSource) float64 {
	if w, ok := c.weights[source]; ok {
		return w
	}
	return 1.0
}
