package broker

import (
	"context"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// defaultPendingMaxAge is how long an order without a broker order ID may
// stay PENDING before the poller gives up on it.
const defaultPendingMaxAge = 10 * time.Minute

// StatusChecker answers status polls for previously submitted orders.
// Adapters that retain order state implement this alongside Adapter.
type StatusChecker interface {
	OrderStatus(brokerOrderID string) (*models.OrderResult, bool)
}

var _ StatusChecker = (*PaperAdapter)(nil)

// PollerStore is the slice of persistence the reconciliation poller needs.
type PollerStore interface {
	PendingOrders(ctx context.Context) ([]storage.OrderRow, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, filledQty int, avgPrice float64) error
	SaveAdapterLog(ctx context.Context, correlationID, adapter, event, detail string) error
}

// Poller reconciles orders stuck in PENDING. Orders with a broker order ID
// are polled against the adapter; orders without one (the submit itself
// errored) are cancelled once they age past maxAge.
type Poller struct {
	store   PollerStore
	checker StatusChecker
	maxAge  time.Duration
	logger  *logrus.Logger
	now     func() time.Time
}

// NewPoller creates a reconciliation poller. A nil checker skips adapter
// polls and only ages out orphaned orders.
func NewPoller(store PollerStore, checker StatusChecker, maxAge time.Duration, logger *logrus.Logger) *Poller {
	if maxAge <= 0 {
		maxAge = defaultPendingMaxAge
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		store:   store,
		checker: checker,
		maxAge:  maxAge,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock injects a clock for tests and returns the poller.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run reconciles on the given interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Reconcile(ctx); err != nil {
				p.logger.WithError(err).Error("order reconciliation failed")
			}
		}
	}
}

// Reconcile resolves what it can and returns how many orders it moved to a
// new status. Per-order failures are logged and do not abort the pass.
func (p *Poller) Reconcile(ctx context.Context) (int, error) {
	pending, err := p.store.PendingOrders(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if p.resolve(ctx, o) {
			resolved++
		}
	}
	if resolved > 0 {
		p.logger.WithField("resolved", resolved).Info("reconciled pending orders")
	}
	return resolved, nil
}

func (p *Poller) resolve(ctx context.Context, o storage.OrderRow) bool {
	if o.BrokerOrderID != "" && p.checker != nil {
		res, ok := p.checker.OrderStatus(o.BrokerOrderID)
		if ok && res.Status != models.OrderPending {
			if err := p.store.UpdateOrderStatus(ctx, o.ID, res.Status, res.FilledQuantity, res.AvgFillPrice); err != nil {
				p.logger.WithError(err).WithField("order_id", o.ID).Error("failed to update reconciled order")
				return false
			}
			p.logAdapter(ctx, o, "reconciled", string(res.Status))
			return true
		}
		return false
	}

	// No broker order ID means the submit never got an acknowledgement.
	// Give the adapter maxAge to surface a late fill before cancelling.
	if p.now().Sub(o.CreatedAt) < p.maxAge {
		return false
	}
	if err := p.store.UpdateOrderStatus(ctx, o.ID, models.OrderCancelled, 0, 0); err != nil {
		p.logger.WithError(err).WithField("order_id", o.ID).Error("failed to cancel aged order")
		return false
	}
	p.logAdapter(ctx, o, "aged_out", "no broker acknowledgement within max age")
	p.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"symbol":   o.OptionSymbol,
		"age":      p.now().Sub(o.CreatedAt).String(),
	}).Warn("cancelled pending order with no broker acknowledgement")
	return true
}

func (p *Poller) logAdapter(ctx context.Context, o storage.OrderRow, event, detail string) {
	if err := p.store.SaveAdapterLog(ctx, o.CorrelationID, "reconciler", event, detail); err != nil {
		p.logger.WithError(err).Warn("failed to record reconciliation log")
	}
}
