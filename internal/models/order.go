package models

import (
	"fmt"
	"math"
	"time"
)

// OrderSide distinguishes opening from closing orders.
type OrderSide string

const (
	// SideBuyToOpen opens a long option position.
	SideBuyToOpen OrderSide = "BUY_TO_OPEN"
	// SideSellToClose closes a long option position.
	SideSellToClose OrderSide = "SELL_TO_CLOSE"
)

// OrderStatus is the broker-reported state of an order.
type OrderStatus string

const (
	// OrderPending means submitted but not yet filled.
	OrderPending OrderStatus = "PENDING"
	// OrderFilled means fully executed.
	OrderFilled OrderStatus = "FILLED"
	// OrderRejected means declined by the broker.
	OrderRejected OrderStatus = "REJECTED"
	// OrderCancelled means cancelled before fill.
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderRequest is the controller's instruction to the broker adapter.
type OrderRequest struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	SignalID      string          `json:"signal_id"`
	PositionID    string          `json:"position_id,omitempty"`
	OptionSymbol  string          `json:"option_symbol"`
	Side          OrderSide       `json:"side"`
	Quantity      int             `json:"quantity"`
	Contract      ContractDetails `json:"contract"`
}

// OrderResult is the broker adapter's response to a submission.
type OrderResult struct {
	Success        bool        `json:"success"`
	Status         OrderStatus `json:"status"`
	BrokerOrderID  string      `json:"broker_order_id"`
	FilledQuantity int         `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Error          string      `json:"error,omitempty"`
}

// Trade is a confirmed execution produced by a filled order.
type Trade struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	CorrelationID string    `json:"correlation_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      int       `json:"quantity"`
	Price         float64   `json:"price"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// OCCSymbol encodes an option contract in standard OCC/OSI form:
// {UNDERLYING}{YYMMDD}{C|P}{strike*1000, zero-padded to 8 digits}.
func OCCSymbol(underlying string, expiration time.Time, optionType Direction, strike float64) string {
	cp := "C"
	if optionType == DirectionPut {
		cp = "P"
	}
	// Strikes encode to the nearest 1/1000th dollar.
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), cp, strikeInt)
}
