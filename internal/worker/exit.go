// Package worker runs the periodic exit sweep over open positions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mstanton/tradepulse/internal/broker"
	"github.com/mstanton/tradepulse/internal/decision"
	"github.com/mstanton/tradepulse/internal/marketdata"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/monitor"
	"github.com/mstanton/tradepulse/internal/positions"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when a sweep is requested while another is
// still running. Sweeps are singleton by design.
var ErrSweepInProgress = errors.New("exit sweep already in progress")

// maxConcurrentEvaluations bounds parallel quote fetches per sweep.
const maxConcurrentEvaluations = 4

// PositionOutcome summarizes one position's evaluation within a sweep.
type PositionOutcome struct {
	PositionID string            `json:"position_id"`
	Symbol     string            `json:"symbol"`
	Decision   models.ExitAction `json:"decision"`
	ExitReason models.ExitReason `json:"exit_reason,omitempty"`
	ClosedQty  int               `json:"closed_qty,omitempty"`
	ExitPrice  float64           `json:"exit_price,omitempty"`
	PnLPercent float64           `json:"pnl_percent"`
	Error      string            `json:"error,omitempty"`
}

// SweepResult reports what a sweep did.
type SweepResult struct {
	DryRun    bool              `json:"dry_run"`
	Evaluated int               `json:"evaluated"`
	Exited    int               `json:"exited"`
	Held      int               `json:"held"`
	Skipped   int               `json:"skipped"`
	Outcomes  []PositionOutcome `json:"outcomes"`
	Duration  time.Duration     `json:"duration"`
}

// OrderStore is the persistence subset the worker writes through.
type OrderStore interface {
	SaveOrder(ctx context.Context, req *models.OrderRequest, res *models.OrderResult) error
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, filledQty int, avgPrice float64) error
	SaveTrade(ctx context.Context, t *models.Trade) error
}

// ExitWorker periodically evaluates every open position against the exit
// rules and executes the resulting closes. Only one sweep runs at a time;
// overlapping triggers are rejected, not queued.
type ExitWorker struct {
	positions    *positions.Manager
	orchestrator *decision.Orchestrator
	quotes       marketdata.Provider
	submitter    *broker.Submitter
	store        OrderStore
	auditor      *monitor.Auditor
	metrics      *monitor.Metrics
	logger       *logrus.Logger
	now          func() time.Time

	running atomic.Bool
}

// NewExitWorker wires the exit worker.
func NewExitWorker(
	posManager *positions.Manager,
	orchestrator *decision.Orchestrator,
	quotes marketdata.Provider,
	submitter *broker.Submitter,
	store OrderStore,
	auditor *monitor.Auditor,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *ExitWorker {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExitWorker{
		positions:    posManager,
		orchestrator: orchestrator,
		quotes:       quotes,
		submitter:    submitter,
		store:        store,
		auditor:      auditor,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock injects a clock for tests and returns the worker.
func (w *ExitWorker) WithClock(now func() time.Time) *ExitWorker {
	w.now = now
	return w
}

// Run sweeps on the given cadence until ctx is cancelled. Manual triggers
// through Sweep are still honored between ticks.
func (w *ExitWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx, false); err != nil && !errors.Is(err, ErrSweepInProgress) {
				w.logger.WithError(err).Error("exit sweep failed")
			}
		}
	}
}

// Sweep evaluates all open positions once. In dry-run mode decisions are
// computed and reported but nothing is executed or persisted.
func (w *ExitWorker) Sweep(ctx context.Context, dryRun bool) (*SweepResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer w.running.Store(false)

	start := w.now()
	open := w.positions.Open()
	result := &SweepResult{DryRun: dryRun, Evaluated: len(open)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEvaluations)
	for i := range open {
		pos := open[i]
		g.Go(func() error {
			outcome := w.evaluate(gctx, &pos, dryRun)
			mu.Lock()
			defer mu.Unlock()
			result.Outcomes = append(result.Outcomes, outcome)
			switch {
			case outcome.Error != "":
				result.Skipped++
			case outcome.Decision == models.ActionExit:
				result.Exited++
			default:
				result.Held++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	if w.metrics != nil {
		w.metrics.SweepDuration.Observe(result.Duration.Seconds())
		w.metrics.OpenPositions.Set(float64(len(w.positions.Open())))
	}
	w.logger.WithFields(logrus.Fields{
		"evaluated": result.Evaluated,
		"exited":    result.Exited,
		"held":      result.Held,
		"skipped":   result.Skipped,
		"dry_run":   dryRun,
	}).Info("exit sweep complete")
	return result, nil
}

// evaluate prices one position, runs the exit rules, and executes the
// resulting close unless dry-running.
func (w *ExitWorker) evaluate(ctx context.Context, pos *models.Position, dryRun bool) PositionOutcome {
	outcome := PositionOutcome{PositionID: pos.ID, Symbol: pos.Symbol, Decision: models.ActionHold}

	if !pos.Contract.Complete() {
		outcome.Error = "incomplete contract details, cannot quote"
		w.logger.WithField("position_id", pos.ID).Warn(outcome.Error)
		return outcome
	}

	quote, err := w.quotes.GetOptionQuote(ctx, pos.Contract.Underlying, pos.Contract.Expiration, pos.Contract.Strike, pos.Contract.OptionType)
	if err != nil {
		outcome.Error = fmt.Sprintf("quote failed: %v", err)
		w.logger.WithError(err).WithField("position_id", pos.ID).Warn("skipping position, quote unavailable")
		return outcome
	}
	price := quote.Mid()
	if price <= 0 {
		outcome.Error = "quote has no usable price"
		return outcome
	}

	d := w.orchestrator.OrchestrateExit(ctx, pos, price)
	outcome.Decision = d.Decision
	outcome.ExitReason = d.ExitReason
	outcome.PnLPercent = d.Calculations.PnLPercent

	if !dryRun && w.auditor != nil {
		w.auditor.ExitDecision(ctx, pos.CorrelationID, d)
	}
	if d.Decision != models.ActionExit {
		if !dryRun {
			if err := w.positions.UpdateMark(ctx, pos.ID, price); err != nil {
				w.logger.WithError(err).WithField("position_id", pos.ID).Warn("failed to persist mark")
			}
		}
		return outcome
	}

	// Profit targets scale out half, floored; everything else closes flat.
	closeQty := pos.Quantity
	if d.ExitReason == models.ExitProfitTarget && pos.Quantity > 1 {
		closeQty = pos.Quantity / 2
	}
	outcome.ClosedQty = closeQty

	if dryRun {
		outcome.ExitPrice = price
		return outcome
	}

	fillPrice, err := w.execute(ctx, pos, closeQty, price)
	if err != nil {
		outcome.Error = fmt.Sprintf("close failed: %v", err)
		w.logger.WithError(err).WithField("position_id", pos.ID).Error("exit execution failed")
		return outcome
	}
	outcome.ExitPrice = fillPrice

	if _, err := w.closePosition(ctx, pos, closeQty, fillPrice); err != nil {
		outcome.Error = fmt.Sprintf("position update failed: %v", err)
		w.logger.WithError(err).WithField("position_id", pos.ID).Error("failed to record close")
		return outcome
	}
	if w.metrics != nil {
		w.metrics.ExitsExecuted.WithLabelValues(string(d.ExitReason)).Inc()
	}
	return outcome
}

// execute submits the closing order and returns the fill price.
func (w *ExitWorker) execute(ctx context.Context, pos *models.Position, qty int, basePrice float64) (float64, error) {
	req := models.OrderRequest{
		ID:            uuid.New().String(),
		CorrelationID: pos.CorrelationID,
		SignalID:      pos.SignalID,
		PositionID:    pos.ID,
		OptionSymbol:  models.OCCSymbol(pos.Contract.Underlying, pos.Contract.Expiration, pos.Contract.OptionType, pos.Contract.Strike),
		Side:          models.SideSellToClose,
		Quantity:      qty,
		Contract:      pos.Contract,
	}
	if err := w.store.SaveOrder(ctx, &req, &models.OrderResult{Status: models.OrderPending}); err != nil {
		w.logger.WithError(err).WithField("order_id", req.ID).Error("failed to persist closing order")
	}

	res, trade, err := w.submitter.Submit(ctx, req, basePrice)
	if err != nil {
		return 0, err
	}
	if err := w.store.UpdateOrderStatus(ctx, req.ID, res.Status, res.FilledQuantity, res.AvgFillPrice); err != nil {
		w.logger.WithError(err).WithField("order_id", req.ID).Error("failed to update closing order status")
	}
	if res.Status != models.OrderFilled {
		return 0, fmt.Errorf("closing order %s: %s", res.Status, res.Error)
	}
	if trade != nil {
		if err := w.store.SaveTrade(ctx, trade); err != nil {
			w.logger.WithError(err).WithField("trade_id", trade.ID).Error("failed to persist closing trade")
		}
	}
	if w.metrics != nil {
		w.metrics.OrdersSubmitted.WithLabelValues(string(req.Side), string(res.Status)).Inc()
	}
	return res.AvgFillPrice, nil
}

func (w *ExitWorker) closePosition(ctx context.Context, pos *models.Position, qty int, fillPrice float64) (*models.Position, error) {
	if qty >= pos.Quantity {
		return w.positions.ClosePosition(ctx, pos.ID, fillPrice)
	}
	return w.positions.ReducePosition(ctx, pos.ID, qty, fillPrice)
}
