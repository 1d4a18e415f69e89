package decision

import (
	"testing"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
)

func testRiskManager() *RiskManager {
	return NewRiskManager(RiskConfig{
		MaxVIXForEntry:             35,
		VIXPositionSizeReduction:   0.5,
		ContextAdjustmentRange:     20,
		PositioningAdjustmentRange: 10,
	})
}

func callSignal() *models.Signal {
	return &models.Signal{
		ID:        "sig-1",
		Source:    models.SourceTradingView,
		Symbol:    "SPY",
		Direction: models.DirectionCall,
		Timeframe: "60m",
		Price:     4.50,
	}
}

func TestApplyMarketFilters_VIXCeiling(t *testing.T) {
	rm := testRiskManager()
	sig := callSignal()

	res := rm.ApplyMarketFilters(sig, &models.ContextData{VIX: 40})
	assert.False(t, res.Passed)
	assert.Contains(t, res.RejectionReason, "VIX")

	res = rm.ApplyMarketFilters(sig, &models.ContextData{VIX: 35})
	assert.True(t, res.Passed, "VIX at the ceiling is allowed")
	assert.Equal(t, 0.5, res.PositionSizeMultiplier, "still above the reduction threshold")

	res = rm.ApplyMarketFilters(sig, &models.ContextData{VIX: 30})
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.PositionSizeMultiplier, "reduction starts strictly above 30")
}

func TestApplyMarketFilters_ElevatedVIXReducesSize(t *testing.T) {
	rm := testRiskManager()

	res := rm.ApplyMarketFilters(callSignal(), &models.ContextData{VIX: 32})
	assert.True(t, res.Passed)
	assert.Equal(t, 0.5, res.PositionSizeMultiplier)
}

func TestContextAdjustment(t *testing.T) {
	rm := testRiskManager()
	sig := callSignal()

	tests := []struct {
		name string
		ctx  models.ContextData
		want float64
	}{
		{"trend aligned, neutral vix", models.ContextData{VIX: 20, Trend: models.TrendBullish}, 10},
		{"counter trend", models.ContextData{VIX: 20, Trend: models.TrendBearish}, -20},
		{"low vix, aligned trend and bias", models.ContextData{VIX: 12, Trend: models.TrendBullish, Bias: 0.4}, 20},
		{"elevated vix, counter trend, opposed bias clamps", models.ContextData{VIX: 32, Trend: models.TrendBearish, Bias: -0.5}, -20},
		{"neutral everything", models.ContextData{VIX: 20, Trend: models.TrendNeutral}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rm.ContextAdjustment(sig, &tt.ctx))
		})
	}
}

func TestContextAdjustment_PutSide(t *testing.T) {
	rm := testRiskManager()
	put := callSignal()
	put.Direction = models.DirectionPut

	got := rm.ContextAdjustment(put, &models.ContextData{VIX: 20, Trend: models.TrendBearish, Bias: -0.3})
	assert.Equal(t, 15.0, got, "bearish trend and negative bias support a put")
}

func TestPositioningAdjustment(t *testing.T) {
	rm := testRiskManager()

	assert.Equal(t, 10.0, rm.PositioningAdjustment(&models.ContextData{Regime: models.RegimeLowVol}))
	assert.Equal(t, -10.0, rm.PositioningAdjustment(&models.ContextData{Regime: models.RegimeHighVol}))
	assert.Equal(t, 0.0, rm.PositioningAdjustment(&models.ContextData{Regime: models.RegimeNormal}))
}
