package models

import "time"

// Trend classifies the prevailing market direction reported by the context feed.
type Trend string

const (
	// TrendBullish indicates an up-trending market.
	TrendBullish Trend = "BULLISH"
	// TrendBearish indicates a down-trending market.
	TrendBearish Trend = "BEARISH"
	// TrendNeutral indicates no clear directional bias.
	TrendNeutral Trend = "NEUTRAL"
)

// Valid returns true if the Trend is one of the defined constants.
func (t Trend) Valid() bool {
	return t == TrendBullish || t == TrendBearish || t == TrendNeutral
}

// Regime classifies market volatility for sizing and filtering.
type Regime string

const (
	// RegimeLowVol indicates a low-volatility environment.
	RegimeLowVol Regime = "LOW_VOL"
	// RegimeHighVol indicates a high-volatility environment.
	RegimeHighVol Regime = "HIGH_VOL"
	// RegimeNormal indicates typical volatility.
	RegimeNormal Regime = "NORMAL"
)

// Valid returns true if the Regime is one of the defined constants.
func (r Regime) Valid() bool {
	return r == RegimeLowVol || r == RegimeHighVol || r == RegimeNormal
}

// ContextData is the latest market snapshot consumed read-only by decisions.
// Bias ranges over [-1, 1]: positive values lean bullish, negative bearish.
type ContextData struct {
	VIX       float64   `json:"vix"`
	Trend     Trend     `json:"trend"`
	Bias      float64   `json:"bias"`
	Regime    Regime    `json:"regime"`
	Timestamp time.Time `json:"timestamp"`
}

// GEXSignal is a gamma-exposure positioning reading for a symbol/timeframe.
// Strength ranges over [-1, 1].
type GEXSignal struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how old the reading is relative to now.
func (g *GEXSignal) Age(now time.Time) time.Duration {
	return now.Sub(g.Timestamp)
}
