// Package ingest turns raw webhook payloads into validated, de-duplicated
// canonical signals: normalization, schema validation, and duplicate
// suppression.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mstanton/tradepulse/internal/models"
)

// ParseError describes a single field-level normalization failure.
type ParseError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is the outcome of normalizing one payload. Exactly one of Signal,
// Ping, or Errors is meaningful: a parsed signal, a heartbeat with no trade
// fields, or the accumulated parse errors.
type Result struct {
	Signal *models.Signal
	Ping   bool
	Errors []ParseError
}

// Normalizer parses the variant payload shapes emitted by upstream
// indicators into canonical signals.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer using the real clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock creates a Normalizer with an injected clock for tests.
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// timestamp field aliases, highest priority first. When several are present
// the first non-empty wins.
var timestampAliases = []string{"timestamp", "time", "signal_time"}

// Normalize parses a decoded JSON payload into a Signal. Source detection
// inspects discriminator fields; heartbeat payloads surface as Ping rather
// than an error.
func (n *Normalizer) Normalize(payload map[string]any) Result {
	if isPing(payload) {
		return Result{Ping: true}
	}

	var errs []ParseError

	symbol := firstString(payload, "symbol", "ticker", "underlying")
	if symbol == "" {
		errs = append(errs, ParseError{Field: "symbol", Message: "missing symbol/ticker"})
	}

	direction, ok := parseDirection(firstString(payload, "direction", "side", "option_type"))
	if !ok {
		errs = append(errs, ParseError{Field: "direction", Message: "missing or unrecognized direction"})
	}

	timeframe := strings.ToLower(firstString(payload, "timeframe", "interval", "tf"))
	if timeframe == "" {
		errs = append(errs, ParseError{Field: "timeframe", Message: "missing timeframe"})
	}

	price, _ := firstNumber(payload, "price", "close", "entry_price")

	ts := n.parseTimestamp(payload)

	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	sig := &models.Signal{
		ID:        uuid.New().String(),
		Source:    detectSource(payload),
		Symbol:    strings.ToUpper(symbol),
		Direction: direction,
		Timeframe: timeframe,
		Price:     price,
		Timestamp: ts,
		Metadata:  extractMetadata(payload),
	}
	return Result{Signal: sig}
}

// isPing reports whether the payload is a heartbeat: explicitly marked as a
// test, or carrying no trade fields at all.
func isPing(payload map[string]any) bool {
	if b, ok := payload["ping"].(bool); ok && b {
		return true
	}
	typ := strings.ToUpper(firstString(payload, "type", "event"))
	if typ == "TEST" || typ == "PING" || typ == "HEARTBEAT" {
		return true
	}
	return false
}

// detectSource inspects discriminator fields to classify the producer.
// Defaults to TRADINGVIEW, the dominant alert shape.
func detectSource(payload map[string]any) models.SignalSource {
	if src := models.SignalSource(strings.ToUpper(firstString(payload, "source"))); src.Valid() {
		return src
	}
	if _, ok := payload["gex_level"]; ok {
		return models.SourceGEX
	}
	if _, ok := payload["strength"]; ok {
		if strings.Contains(strings.ToLower(firstString(payload, "indicator")), "gex") {
			return models.SourceGEX
		}
	}
	if _, ok := payload["mtf_alignment"]; ok {
		return models.SourceMTF
	}
	if b, ok := payload["manual"].(bool); ok && b {
		return models.SourceManual
	}
	return models.SourceTradingView
}

func parseDirection(raw string) (models.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CALL", "C", "LONG", "BUY_CALL":
		return models.DirectionCall, true
	case "PUT", "P", "SHORT", "BUY_PUT":
		return models.DirectionPut, true
	default:
		return "", false
	}
}

// parseTimestamp resolves the signal timestamp from the tolerated aliases,
// first non-empty in priority order, then a nested metadata.signal_time.
// Falls back to the current time when nothing parses.
func (n *Normalizer) parseTimestamp(payload map[string]any) time.Time {
	for _, key := range timestampAliases {
		if v, ok := payload[key]; ok {
			if t, ok := coerceTime(v); ok {
				return t
			}
		}
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		if v, ok := meta["signal_time"]; ok {
			if t, ok := coerceTime(v); ok {
				return t
			}
		}
	}
	return n.now()
}

// coerceTime accepts RFC3339 strings and unix epochs in seconds or
// milliseconds.
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if epoch, err := strconv.ParseInt(t, 10, 64); err == nil {
			return epochToTime(epoch), true
		}
		return time.Time{}, false
	case float64:
		return epochToTime(int64(t)), true
	default:
		return time.Time{}, false
	}
}

func epochToTime(epoch int64) time.Time {
	// Heuristic: epochs past the year 33658 in seconds are milliseconds.
	if epoch > 1e12 {
		return time.UnixMilli(epoch)
	}
	return time.Unix(epoch, 0)
}

// reservedKeys are payload fields already mapped onto Signal fields.
var reservedKeys = map[string]bool{
	"symbol": true, "ticker": true, "underlying": true,
	"direction": true, "side": true, "option_type": true,
	"timeframe": true, "interval": true, "tf": true,
	"price": true, "close": true,
	"timestamp": true, "time": true, "signal_time": true,
	"type": true, "event": true, "ping": true,
}

// extractMetadata carries unmapped payload fields into signal metadata.
func extractMetadata(payload map[string]any) map[string]any {
	meta := make(map[string]any)
	for k, v := range payload {
		if reservedKeys[k] {
			continue
		}
		if k == "metadata" {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					meta[nk] = nv
				}
				continue
			}
		}
		meta[k] = v
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(payload map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
