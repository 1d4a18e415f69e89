package models

// EntryAction is the outcome of entry orchestration.
type EntryAction string

const (
	// ActionEnter opens a new position.
	ActionEnter EntryAction = "ENTER"
	// ActionReject declines the signal.
	ActionReject EntryAction = "REJECT"
)

// ExitAction is the outcome of exit orchestration.
type ExitAction string

const (
	// ActionExit closes (part of) the position.
	ActionExit ExitAction = "EXIT"
	// ActionHold keeps the position open.
	ActionHold ExitAction = "HOLD"
)

// ExitReason names the first exit rule that matched, in priority order.
type ExitReason string

const (
	// ExitProfitTarget fires when the P&L percentage reaches the profit target.
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	// ExitStopLoss fires when the P&L percentage breaches the stop loss.
	ExitStopLoss ExitReason = "STOP_LOSS"
	// ExitGEXFlip fires when gamma positioning flips against the position.
	ExitGEXFlip ExitReason = "GEX_FLIP"
	// ExitTimeExit fires at the configured market close.
	ExitTimeExit ExitReason = "TIME_EXIT"
)

// SizingCalculations records each intermediate of the ordered multiplier
// chain so decisions are fully auditable.
type SizingCalculations struct {
	AfterBase            float64 `json:"after_base"`
	KellyMultiplier      float64 `json:"kelly_multiplier"`
	AfterKelly           float64 `json:"after_kelly"`
	RegimeMultiplier     float64 `json:"regime_multiplier"`
	AfterRegime          float64 `json:"after_regime"`
	ConfluenceMultiplier float64 `json:"confluence_multiplier"`
	AfterConfluence      float64 `json:"after_confluence"`
	VIXMultiplier        float64 `json:"vix_multiplier"`
	AfterVIX             float64 `json:"after_vix"`
	FinalSize            int     `json:"final_size"`
}

// EntryCalculations is the audit trail attached to every entry decision.
type EntryCalculations struct {
	BaseConfidence   float64            `json:"base_confidence"`
	ContextDelta     float64            `json:"context_delta"`
	PositioningDelta float64            `json:"positioning_delta"`
	GEXDelta         float64            `json:"gex_delta"`
	ConfluenceScore  float64            `json:"confluence_score"`
	ConfluenceBoost  float64            `json:"confluence_boost"`
	FinalConfidence  float64            `json:"final_confidence"`
	Sizing           SizingCalculations `json:"sizing"`
}

// EntryDecision is the result of orchestrating a signal through the entry
// flow. Confidence is clamped to [0, 100]; PositionSize is a non-negative
// contract count.
type EntryDecision struct {
	Decision     EntryAction       `json:"decision"`
	Signal       *Signal           `json:"signal"`
	Confidence   float64           `json:"confidence"`
	PositionSize int               `json:"position_size"`
	Reasoning    []string          `json:"reasoning"`
	Calculations EntryCalculations `json:"calculations"`
}

// ExitCalculations is the audit trail attached to every exit decision.
type ExitCalculations struct {
	CurrentPrice float64 `json:"current_price"`
	CurrentPnL   float64 `json:"current_pnl"`
	PnLPercent   float64 `json:"pnl_percent"`
	ProfitTarget float64 `json:"profit_target"`
	StopLoss     float64 `json:"stop_loss"`
	GEXEvaluated bool    `json:"gex_evaluated"`
}

// ExitDecision is the result of orchestrating a position through the exit
// flow. ExitReason is set only when Decision is EXIT.
type ExitDecision struct {
	Decision     ExitAction       `json:"decision"`
	Position     *Position        `json:"position"`
	ExitReason   ExitReason       `json:"exit_reason,omitempty"`
	Reasoning    []string         `json:"reasoning"`
	Calculations ExitCalculations `json:"calculations"`
}
