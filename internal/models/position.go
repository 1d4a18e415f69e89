package models

import (
	"fmt"
	"time"
)

// SharesPerContract is the standard US equity option multiplier.
const SharesPerContract = 100.0

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	// PositionOpen marks a live position.
	PositionOpen PositionStatus = "OPEN"
	// PositionClosed marks a fully exited position.
	PositionClosed PositionStatus = "CLOSED"
)

// Valid returns true if the PositionStatus is one of the defined constants.
func (s PositionStatus) Valid() bool {
	return s == PositionOpen || s == PositionClosed
}

// ContractDetails identifies the option contract a position holds.
type ContractDetails struct {
	Underlying string    `json:"underlying"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	OptionType Direction `json:"option_type"`
	Timeframe  string    `json:"timeframe"`
}

// Complete reports whether enough contract fields are present to request a
// quote and build a closing order.
func (c ContractDetails) Complete() bool {
	return c.Underlying != "" && c.Strike > 0 && !c.Expiration.IsZero() && c.OptionType.Valid()
}

// Position is an open or closed option contract holding. At most one OPEN
// position may exist per SignalID; once CLOSED the exit fields are set and
// Quantity is frozen.
type Position struct {
	ID            string          `json:"id"`
	SignalID      string          `json:"signal_id"`
	CorrelationID string          `json:"correlation_id"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Quantity      int             `json:"quantity"`
	EntryPrice    float64         `json:"entry_price"`
	EntryTime     time.Time       `json:"entry_time"`
	CurrentPrice  float64         `json:"current_price,omitempty"`
	UnrealizedPnL float64         `json:"unrealized_pnl,omitempty"`
	ExitPrice     float64         `json:"exit_price,omitempty"`
	ExitTime      time.Time       `json:"exit_time,omitempty"`
	RealizedPnL   float64         `json:"realized_pnl,omitempty"`
	Status        PositionStatus  `json:"status"`
	Contract      ContractDetails `json:"contract"`
}

// UnrealizedPnLAt returns the mark-to-market P&L at the given price.
func (p *Position) UnrealizedPnLAt(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity) * SharesPerContract
}

// PnLPercentAt returns the P&L as a percentage of the entry price.
func (p *Position) PnLPercentAt(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// Notional returns the capital committed at entry.
func (p *Position) Notional() float64 {
	return p.EntryPrice * float64(p.Quantity) * SharesPerContract
}

// Validate checks structural invariants common to both lifecycle states.
func (p *Position) Validate() error {
	if p.SignalID == "" {
		return fmt.Errorf("position %s: signal_id is required", p.ID)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be > 0 (current: %d)", p.ID, p.Quantity)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("position %s: entry_price must be > 0 (current: %.2f)", p.ID, p.EntryPrice)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("position %s: invalid direction %q", p.ID, p.Direction)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: invalid status %q", p.ID, p.Status)
	}
	if p.Status == PositionClosed {
		if p.ExitTime.IsZero() {
			return fmt.Errorf("position %s: exit_time must be set for closed positions", p.ID)
		}
		if p.ExitPrice <= 0 {
			return fmt.Errorf("position %s: exit_price must be > 0 for closed positions", p.ID)
		}
	}
	return nil
}
