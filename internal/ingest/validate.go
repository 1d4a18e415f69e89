package ingest

import (
	"fmt"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
)

// MarketHours reports whether the given instant falls inside the configured
// exchange-local trading window. Satisfied by config.Config.
type MarketHours interface {
	IsWithinMarketHours(now time.Time) bool
}

// Validator enforces schema, clock-skew, and market-hours rules on
// normalized signals. Validation returns the first failure reason and never
// panics.
type Validator struct {
	hours   MarketHours
	maxSkew time.Duration
	maxVIX  float64
	now     func() time.Time
}

// NewValidator creates a Validator. maxVIX bounds context-path VIX readings;
// pass 0 to use the default sanity ceiling.
func NewValidator(hours MarketHours, maxSkew time.Duration, maxVIX float64) *Validator {
	if maxVIX <= 0 {
		maxVIX = 150
	}
	return &Validator{hours: hours, maxSkew: maxSkew, maxVIX: maxVIX, now: time.Now}
}

// WithClock injects a clock for tests and returns the validator.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateSignal returns nil when the signal passes all rules, or an error
// naming the first violated rule.
func (v *Validator) ValidateSignal(sig *models.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is nil")
	}
	if !sig.Direction.Valid() {
		return fmt.Errorf("direction %q not in allowed set", sig.Direction)
	}
	if sig.Timeframe == "" {
		return fmt.Errorf("timeframe must be non-empty")
	}
	if sig.Symbol == "" {
		return fmt.Errorf("symbol must be non-empty")
	}

	now := v.now()
	if skew := absDuration(now.Sub(sig.Timestamp)); skew > v.maxSkew {
		return fmt.Errorf("timestamp outside tolerance: %s from now (max %s)", skew.Round(time.Second), v.maxSkew)
	}

	if v.hours != nil && !v.hours.IsWithinMarketHours(now) {
		return fmt.Errorf("outside market hours")
	}

	return nil
}

// ValidateContext checks a market-context snapshot on the CONTEXT path.
func (v *Validator) ValidateContext(data *models.ContextData) error {
	if data == nil {
		return fmt.Errorf("context is nil")
	}
	if data.VIX < 0 {
		return fmt.Errorf("vix must be non-negative (got %.2f)", data.VIX)
	}
	if data.VIX > v.maxVIX {
		return fmt.Errorf("vix %.2f above sanity bound %.2f", data.VIX, v.maxVIX)
	}
	if !data.Trend.Valid() {
		return fmt.Errorf("trend %q not in allowed set", data.Trend)
	}
	if !data.Regime.Valid() {
		return fmt.Errorf("regime %q not in allowed set", data.Regime)
	}
	if data.Bias < -1 || data.Bias > 1 {
		return fmt.Errorf("bias %.2f outside [-1, 1]", data.Bias)
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
