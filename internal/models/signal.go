// Package models defines the core domain types shared across the trading
// controller: signals, market context, positions, orders, and decisions.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// SignalSource identifies the upstream producer of a trading signal.
type SignalSource string

const (
	// SourceTradingView indicates a TradingView alert webhook.
	SourceTradingView SignalSource = "TRADINGVIEW"
	// SourceGEX indicates a gamma-exposure indicator feed.
	SourceGEX SignalSource = "GEX"
	// SourceMTF indicates a multi-timeframe confirmation indicator.
	SourceMTF SignalSource = "MTF"
	// SourceManual indicates an operator-submitted signal.
	SourceManual SignalSource = "MANUAL"
)

// Valid returns true if the SignalSource is one of the defined constants.
func (s SignalSource) Valid() bool {
	switch s {
	case SourceTradingView, SourceGEX, SourceMTF, SourceManual:
		return true
	default:
		return false
	}
}

// Direction is the option side a signal recommends.
type Direction string

const (
	// DirectionCall recommends buying calls.
	DirectionCall Direction = "CALL"
	// DirectionPut recommends buying puts.
	DirectionPut Direction = "PUT"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// Opposes returns true when the two directions are both valid and disagree.
func (d Direction) Opposes(other Direction) bool {
	return d.Valid() && other.Valid() && d != other
}

// Signal is the canonical event every webhook payload is normalized into.
type Signal struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	Source        SignalSource   `json:"source"`
	Symbol        string         `json:"symbol"`
	Direction     Direction      `json:"direction"`
	Timeframe     string         `json:"timeframe"`
	Price         float64        `json:"price"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Metadata keys recognized by typed accessors.
const (
	MetaParsedSignal     = "parsed_signal"
	MetaCorrelationID    = "correlation_id"
	MetaOriginalSignalID = "original_signal_id"
	MetaEntryPrice       = "entry_price"
	MetaStrike           = "strike"
	MetaExpiration       = "expiration"
	MetaStrength         = "strength"
)

// MetaString returns the metadata value for key as a string, or "" when the
// key is absent or not string-like.
func (s *Signal) MetaString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	switch v := s.Metadata[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// MetaFloat returns the metadata value for key as a float64. JSON numbers
// decode as float64; numeric strings are parsed as a fallback.
func (s *Signal) MetaFloat(key string) (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	switch v := s.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// EntryPrice returns the entry price hint carried in metadata, falling back
// to the signal price.
func (s *Signal) EntryPrice() float64 {
	if f, ok := s.MetaFloat(MetaEntryPrice); ok && f > 0 {
		return f
	}
	return s.Price
}
