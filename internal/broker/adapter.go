// Package broker defines the execution adapter boundary and the paper
// adapter used for simulated fills.
package broker

import (
	"context"

	"github.com/mstanton/tradepulse/internal/models"
)

// Mode selects real or simulated execution.
type Mode string

const (
	// ModePaper simulates fills locally without touching a real broker.
	ModePaper Mode = "PAPER"
	// ModeLive routes orders to a real brokerage.
	ModeLive Mode = "LIVE"
)

// Valid returns true if the Mode is one of the defined constants.
func (m Mode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

// Adapter is the execution boundary. basePrice is the controller's best
// known option price at submission time; adapters use it when they cannot
// quote the contract themselves.
type Adapter interface {
	// Name identifies the adapter for logging and persistence.
	Name() string
	// Mode reports whether the adapter executes for real or simulates.
	Mode() Mode
	// SubmitOrder executes the request. A nil error with a REJECTED status
	// means the venue declined the order; errors are reserved for transport
	// and adapter failures.
	SubmitOrder(ctx context.Context, req models.OrderRequest, basePrice float64) (*models.OrderResult, *models.Trade, error)
}

// Tracker runs a call through a named dependency's circuit breaker.
type Tracker interface {
	Do(name string, fn func() (any, error)) (any, error)
}

// trackedAdapter reports submission outcomes to a dependency tracker. Venue
// rejections come back as results, so only transport failures count against
// the breaker; an open breaker fails submissions fast and the reconciliation
// poller picks up the stranded orders.
type trackedAdapter struct {
	inner   Adapter
	tracker Tracker
}

var _ Adapter = (*trackedAdapter)(nil)

// NewTrackedAdapter wraps an adapter so the health tracker sees every
// submission.
func NewTrackedAdapter(inner Adapter, tracker Tracker) Adapter {
	return &trackedAdapter{inner: inner, tracker: tracker}
}

func (t *trackedAdapter) Name() string { return t.inner.Name() }

func (t *trackedAdapter) Mode() Mode { return t.inner.Mode() }

func (t *trackedAdapter) SubmitOrder(ctx context.Context, req models.OrderRequest, basePrice float64) (*models.OrderResult, *models.Trade, error) {
	var res *models.OrderResult
	var trade *models.Trade
	_, err := t.tracker.Do("broker", func() (any, error) {
		var err error
		res, trade, err = t.inner.SubmitOrder(ctx, req, basePrice)
		return nil, err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, trade, nil
}
