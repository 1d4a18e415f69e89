// Package decision contains the entry/exit decision engine: market-condition
// risk filters, confluence scoring, position sizing, and the orchestrator
// that composes them.
package decision

import (
	"fmt"

	"github.com/mstanton/tradepulse/internal/models"
)

// VIX thresholds for confidence and sizing adjustments.
const (
	lowVIXThreshold  = 15.0
	highVIXThreshold = 30.0
)

// RiskConfig tunes the market-condition filters.
type RiskConfig struct {
	MaxVIXForEntry             float64
	VIXPositionSizeReduction   float64
	ContextAdjustmentRange     float64
	PositioningAdjustmentRange float64
}

// MarketFilterResult is the outcome of applying hard market filters.
type MarketFilterResult struct {
	Passed                 bool
	PositionSizeMultiplier float64
	RejectionReason        string
}

// RiskManager applies market-condition filters and computes confidence
// deltas from context and positioning.
type RiskManager struct {
	cfg RiskConfig
}

// NewRiskManager creates a RiskManager.
func NewRiskManager(cfg RiskConfig) *RiskManager {
	if cfg.ContextAdjustmentRange <= 0 {
		cfg.ContextAdjustmentRange = 20
	}
	if cfg.PositioningAdjustmentRange <= 0 {
		cfg.PositioningAdjustmentRange = 10
	}
	if cfg.VIXPositionSizeReduction <= 0 || cfg.VIXPositionSizeReduction > 1 {
		cfg.VIXPositionSizeReduction = 0.5
	}
	return &RiskManager{cfg: cfg}
}

// ApplyMarketFilters enforces hard entry rules. A VIX above the entry
// ceiling rejects outright; an elevated VIX reduces the size multiplier.
func (r *RiskManager) ApplyMarketFilters(sig *models.Signal, ctx *models.ContextData) MarketFilterResult {
	res := MarketFilterResult{Passed: true, PositionSizeMultiplier: 1.0}

	if ctx.VIX > r.cfg.MaxVIXForEntry {
		res.Passed = false
		res.RejectionReason = fmt.Sprintf("VIX %.1f above entry ceiling %.1f", ctx.VIX, r.cfg.MaxVIXForEntry)
		return res
	}
	if ctx.VIX > highVIXThreshold {
		res.PositionSizeMultiplier *= r.cfg.VIXPositionSizeReduction
	}
	return res
}

// ContextAdjustment returns a whole-number confidence delta from VIX, trend
// alignment, and bias alignment, clamped to the configured range.
func (r *RiskManager) ContextAdjustment(sig *models.Signal, ctx *models.ContextData) float64 {
	var delta float64

	if ctx.VIX < lowVIXThreshold {
		delta += 5
	} else if ctx.VIX > highVIXThreshold {
		delta -= 10
	}

	switch trendAlignment(sig.Direction, ctx.Trend) {
	case 1:
		delta += 10
	case -1:
		delta -= 20
	}

	switch biasAlignment(sig.Direction, ctx.Bias) {
	case 1:
		delta += 5
	case -1:
		delta -= 5
	}

	return clamp(delta, -r.cfg.ContextAdjustmentRange, r.cfg.ContextAdjustmentRange)
}

// PositioningAdjustment returns the regime-based confidence delta, clamped
// to the configured range.
func (r *RiskManager) PositioningAdjustment(ctx *models.ContextData) float64 {
	var delta float64
	switch ctx.Regime {
	case models.RegimeLowVol:
		delta = 10
	case models.RegimeHighVol:
		delta = -10
	}
	return clamp(delta, -r.cfg.PositioningAdjustmentRange, r.cfg.PositioningAdjustmentRange)
}

// trendAlignment returns 1 when the trend supports the direction, -1 when it
// opposes it, and 0 for a neutral trend.
func trendAlignment(dir models.Direction, trend models.Trend) int {
	switch trend {
	case models.TrendBullish:
		if dir == models.DirectionCall {
			return 1
		}
		return -1
	case models.TrendBearish:
		if dir == models.DirectionPut {
			return 1
		}
		return -1
	default:
		return 0
	}
}

// biasAlignment returns 1 when the bias leans with the direction, -1 when it
// leans against, and 0 for zero bias.
func biasAlignment(dir models.Direction, bias float64) int {
	if bias == 0 {
		return 0
	}
	bullish := bias > 0
	if (bullish && dir == models.DirectionCall) || (!bullish && dir == models.DirectionPut) {
		return 1
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
