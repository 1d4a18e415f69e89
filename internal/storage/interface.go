package storage

import (
	"context"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
)

// PipelineFailure records a signal that was dropped at a named pipeline stage.
type PipelineFailure struct {
	CorrelationID string    `json:"correlation_id"`
	Stage         string    `json:"stage"`
	Reason        string    `json:"reason"`
	Payload       string    `json:"payload,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderRow is the persisted view of an order joined with its broker result.
type OrderRow struct {
	ID             string             `json:"id"`
	CorrelationID  string             `json:"correlation_id"`
	SignalID       string             `json:"signal_id"`
	PositionID     string             `json:"position_id,omitempty"`
	OptionSymbol   string             `json:"option_symbol"`
	Side           models.OrderSide   `json:"side"`
	Quantity       int                `json:"quantity"`
	Status         models.OrderStatus `json:"status"`
	BrokerOrderID  string             `json:"broker_order_id,omitempty"`
	FilledQuantity int                `json:"filled_quantity"`
	AvgFillPrice   float64            `json:"avg_fill_price"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Stats aggregates trading outcomes for the /stats endpoint.
type Stats struct {
	TotalSignals    int     `json:"total_signals"`
	AcceptedSignals int     `json:"accepted_signals"`
	TotalTrades     int     `json:"total_trades"`
	OpenPositions   int     `json:"open_positions"`
	ClosedPositions int     `json:"closed_positions"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalPnL        float64 `json:"total_pnl"`
}

// Interface defines the contract for controller persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines.
type Interface interface {
	// Signal intake
	SaveSignal(ctx context.Context, sig *models.Signal, status string) error
	SaveRefactoredSignal(ctx context.Context, sig *models.Signal, fingerprint, status string) error
	UpdateSignalStatus(ctx context.Context, signalID, status string) error
	PeerSignals(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Signal, error)
	ListSignals(ctx context.Context, limit int) ([]models.Signal, error)
	SavePipelineFailure(ctx context.Context, f *PipelineFailure) error

	// Decisions and context
	SaveEntryDecision(ctx context.Context, correlationID string, d *models.EntryDecision) error
	SaveExitDecision(ctx context.Context, correlationID string, d *models.ExitDecision) error
	SaveContextSnapshot(ctx context.Context, correlationID string, data *models.ContextData) error
	LatestContextSnapshot(ctx context.Context) (*models.ContextData, error)

	// GEX readings
	SaveGEXSignal(ctx context.Context, g *models.GEXSignal) error
	RecentGEXSignals(ctx context.Context, symbol, timeframe string, limit int) ([]models.GEXSignal, error)

	// Orders and trades
	SaveOrder(ctx context.Context, req *models.OrderRequest, res *models.OrderResult) error
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, filledQty int, avgPrice float64) error
	SaveTrade(ctx context.Context, t *models.Trade) error
	SaveAdapterLog(ctx context.Context, correlationID, adapter, event, detail string) error
	ListOrders(ctx context.Context, limit int) ([]OrderRow, error)
	PendingOrders(ctx context.Context) ([]OrderRow, error)
	ListTrades(ctx context.Context, limit int) ([]models.Trade, error)

	// Positions
	SavePosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, p *models.Position) error
	OpenPositions(ctx context.Context) ([]models.Position, error)
	ListPositions(ctx context.Context, limit int) ([]models.Position, error)

	// Aggregates
	GetStats(ctx context.Context) (*Stats, error)

	Close() error
}

// Ensure SQLiteStore implements Interface
var _ Interface = (*SQLiteStore)(nil)
