package decision

import (
	"testing"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
)

func testSizer() *Sizer {
	return NewSizer(SizingConfig{
		BaseSize:      2,
		KellyFraction: 0.5,
		MinSize:       1,
		MaxSize:       10,
	})
}

func TestSizerChainOrder(t *testing.T) {
	calc := testSizer().Calculate(60, models.RegimeNormal, 0.5, 1.0)

	assert.Equal(t, 2.0, calc.AfterBase)
	assert.InDelta(t, 1.3, calc.KellyMultiplier, 1e-9)
	assert.InDelta(t, 2.6, calc.AfterKelly, 1e-9)
	assert.Equal(t, 1.0, calc.RegimeMultiplier)
	assert.InDelta(t, 1.0, calc.ConfluenceMultiplier, 1e-9)
	assert.InDelta(t, 2.6, calc.AfterVIX, 1e-9)
	assert.Equal(t, 2, calc.FinalSize, "fractional sizes floor")
}

func TestSizerRegimeMultipliers(t *testing.T) {
	s := testSizer()

	low := s.Calculate(60, models.RegimeLowVol, 0.5, 1.0)
	assert.Equal(t, 1.2, low.RegimeMultiplier)

	high := s.Calculate(60, models.RegimeHighVol, 0.5, 1.0)
	assert.Equal(t, 0.7, high.RegimeMultiplier)
}

func TestSizerBelowMinimumSizesToZero(t *testing.T) {
	calc := testSizer().Calculate(0, models.RegimeHighVol, 0, 0.5)
	// 2 * 1.0 * 0.7 * 0.8 * 0.5 = 0.56 < minSize 1
	assert.Equal(t, 0, calc.FinalSize)
}

func TestSizerCapsAtMaxSize(t *testing.T) {
	s := NewSizer(SizingConfig{BaseSize: 20, KellyFraction: 0.5, MinSize: 1, MaxSize: 10})
	calc := s.Calculate(100, models.RegimeLowVol, 1.0, 1.0)
	assert.Equal(t, 10, calc.FinalSize)
}

func TestSizerZeroVIXMultiplierDefaultsNeutral(t *testing.T) {
	calc := testSizer().Calculate(60, models.RegimeNormal, 0.5, 0)
	assert.Equal(t, 1.0, calc.VIXMultiplier)
	assert.Equal(t, 2, calc.FinalSize)
}
