package decision

import (
	"math"

	"github.com/mstanton/tradepulse/internal/models"
)

// Regime sizing multipliers.
const (
	regimeLowVolMultiplier  = 1.2
	regimeHighVolMultiplier = 0.7
	regimeNormalMultiplier  = 1.0
)

// SizingConfig tunes the position sizing chain.
type SizingConfig struct {
	BaseSize      float64
	KellyFraction float64
	MinSize       int
	MaxSize       int
}

// Sizer computes position sizes through a strict ordered multiplier chain:
// base, Kelly, regime, confluence, VIX, then cap/floor. Every intermediate is
// recorded for audit.
type Sizer struct {
	cfg SizingConfig
}

// NewSizer creates a Sizer.
func NewSizer(cfg SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Calculate runs the chain. confidence is the final entry confidence in
// [0, 100]; confluence is in [0, 1]; vixMultiplier comes from the market
// filters (1.0 when VIX is benign). A result below MinSize sizes to zero.
func (s *Sizer) Calculate(confidence float64, regime models.Regime, confluence, vixMultiplier float64) models.SizingCalculations {
	calc := models.SizingCalculations{}

	calc.AfterBase = s.cfg.BaseSize

	calc.KellyMultiplier = 1 + (confidence/100)*s.cfg.KellyFraction
	calc.AfterKelly = calc.AfterBase * calc.KellyMultiplier

	calc.RegimeMultiplier = regimeMultiplier(regime)
	calc.AfterRegime = calc.AfterKelly * calc.RegimeMultiplier

	calc.ConfluenceMultiplier = 0.8 + 0.4*confluence
	calc.AfterConfluence = calc.AfterRegime * calc.ConfluenceMultiplier

	calc.VIXMultiplier = vixMultiplier
	if calc.VIXMultiplier <= 0 {
		calc.VIXMultiplier = 1.0
	}
	calc.AfterVIX = calc.AfterConfluence * calc.VIXMultiplier

	size := calc.AfterVIX
	if max := float64(s.cfg.MaxSize); size > max {
		size = max
	}
	if size < float64(s.cfg.MinSize) {
		calc.FinalSize = 0
		return calc
	}
	calc.FinalSize = int(math.Floor(size))
	return calc
}

func regimeMultiplier(regime models.Regime) float64 {
	switch regime {
	case models.RegimeLowVol:
		return regimeLowVolMultiplier
	case models.RegimeHighVol:
		return regimeHighVolMultiplier
	default:
		return regimeNormalMultiplier
	}
}
