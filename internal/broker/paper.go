package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/sirupsen/logrus"
)

// defaultSlippage is the per-contract price slippage fraction applied to
// simulated fills.
const defaultSlippage = 0.01

// PaperAdapter simulates immediate fills at the base price plus slippage.
// Buys fill slightly above base, sells slightly below, so paper P&L stays
// conservative.
type PaperAdapter struct {
	mu       sync.Mutex
	slippage float64
	logger   *logrus.Logger
	now      func() time.Time
	// orders retains simulated orders so status polls can answer.
	orders map[string]*models.OrderResult
}

var _ Adapter = (*PaperAdapter)(nil)

// NewPaperAdapter creates a paper adapter. A non-positive slippage uses the
// default.
func NewPaperAdapter(slippage float64, logger *logrus.Logger) *PaperAdapter {
	if slippage <= 0 {
		slippage = defaultSlippage
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PaperAdapter{
		slippage: slippage,
		logger:   logger,
		now:      time.Now,
		orders:   make(map[string]*models.OrderResult),
	}
}

// WithClock injects a clock for tests and returns the adapter.
func (a *PaperAdapter) WithClock(now func() time.Time) *PaperAdapter {
	a.now = now
	return a
}

// Name implements Adapter.
func (a *PaperAdapter) Name() string { return "paper" }

// Mode implements Adapter.
func (a *PaperAdapter) Mode() Mode { return ModePaper }

// SubmitOrder fills the full quantity immediately at base plus slippage.
func (a *PaperAdapter) SubmitOrder(ctx context.Context, req models.OrderRequest, basePrice float64) (*models.OrderResult, *models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if req.Quantity <= 0 {
		res := &models.OrderResult{
			Status: models.OrderRejected,
			Error:  fmt.Sprintf("quantity must be > 0 (got %d)", req.Quantity),
		}
		return res, nil, nil
	}
	if basePrice <= 0 {
		res := &models.OrderResult{
			Status: models.OrderRejected,
			Error:  fmt.Sprintf("no usable price for %s", req.OptionSymbol),
		}
		return res, nil, nil
	}

	fill := basePrice * (1 + a.slippage)
	if req.Side == models.SideSellToClose {
		fill = basePrice * (1 - a.slippage)
	}
	fill = math.Round(fill*100) / 100

	res := &models.OrderResult{
		Success:        true,
		Status:         models.OrderFilled,
		BrokerOrderID:  uuid.New().String(),
		FilledQuantity: req.Quantity,
		AvgFillPrice:   fill,
	}
	trade := &models.Trade{
		ID:            uuid.New().String(),
		OrderID:       req.ID,
		CorrelationID: req.CorrelationID,
		Symbol:        req.OptionSymbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         fill,
		ExecutedAt:    a.now().UTC(),
	}

	a.mu.Lock()
	a.orders[res.BrokerOrderID] = res
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"order_id":   req.ID,
		"symbol":     req.OptionSymbol,
		"side":       req.Side,
		"quantity":   req.Quantity,
		"fill_price": fill,
	}).Info("paper fill")
	return res, trade, nil
}

// OrderStatus returns the retained result for a simulated order.
func (a *PaperAdapter) OrderStatus(brokerOrderID string) (*models.OrderResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.orders[brokerOrderID]
	if !ok {
		return nil, false
	}
	copied := *res
	return &copied, true
}
