package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buyRequest() models.OrderRequest {
	return models.OrderRequest{
		ID:            "ord-1",
		CorrelationID: "corr-1",
		SignalID:      "sig-1",
		OptionSymbol:  "SPY260918C00450000",
		Side:          models.SideBuyToOpen,
		Quantity:      2,
		Contract: models.ContractDetails{
			Underlying: "SPY",
			Strike:     450,
			Expiration: time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
			OptionType: models.DirectionCall,
		},
	}
}

func TestPaperAdapter_BuyFillsAboveBase(t *testing.T) {
	a := NewPaperAdapter(0.01, nil)

	res, trade, err := a.SubmitOrder(context.Background(), buyRequest(), 4.50)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, models.OrderFilled, res.Status)
	assert.Equal(t, 2, res.FilledQuantity)
	assert.InDelta(t, 4.55, res.AvgFillPrice, 1e-9, "buys fill above base by slippage, rounded to cents")

	require.NotNil(t, trade)
	assert.Equal(t, "ord-1", trade.OrderID)
	assert.Equal(t, res.AvgFillPrice, trade.Price)
}

func TestPaperAdapter_SellFillsBelowBase(t *testing.T) {
	a := NewPaperAdapter(0.01, nil)
	req := buyRequest()
	req.Side = models.SideSellToClose

	res, _, err := a.SubmitOrder(context.Background(), req, 4.50)
	require.NoError(t, err)
	assert.InDelta(t, 4.46, res.AvgFillPrice, 1e-9)
}

func TestPaperAdapter_RejectsBadInput(t *testing.T) {
	a := NewPaperAdapter(0.01, nil)

	req := buyRequest()
	req.Quantity = 0
	res, trade, err := a.SubmitOrder(context.Background(), req, 4.50)
	require.NoError(t, err, "venue rejections are results, not errors")
	assert.Equal(t, models.OrderRejected, res.Status)
	assert.Nil(t, trade)

	res, _, err = a.SubmitOrder(context.Background(), buyRequest(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.OrderRejected, res.Status)
	assert.Contains(t, res.Error, "price")
}

func TestPaperAdapter_OrderStatus(t *testing.T) {
	a := NewPaperAdapter(0.01, nil)

	res, _, err := a.SubmitOrder(context.Background(), buyRequest(), 4.50)
	require.NoError(t, err)

	got, ok := a.OrderStatus(res.BrokerOrderID)
	require.True(t, ok)
	assert.Equal(t, models.OrderFilled, got.Status)

	_, ok = a.OrderStatus("unknown")
	assert.False(t, ok)
}

// flakyAdapter fails with a transient error a fixed number of times before
// delegating to a paper adapter.
type flakyAdapter struct {
	failures int
	calls    int
	inner    *PaperAdapter
}

var _ Adapter = (*flakyAdapter)(nil)

func (f *flakyAdapter) Name() string { return "flaky" }
func (f *flakyAdapter) Mode() Mode   { return ModePaper }

func (f *flakyAdapter) SubmitOrder(ctx context.Context, req models.OrderRequest, basePrice float64) (*models.OrderResult, *models.Trade, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, nil, errors.New("connection reset by peer")
	}
	return f.inner.SubmitOrder(ctx, req, basePrice)
}

func TestSubmitter_RetriesTransientOnce(t *testing.T) {
	flaky := &flakyAdapter{failures: 1, inner: NewPaperAdapter(0.01, nil)}
	s := NewSubmitter(flaky, SubmitConfig{Retries: 1, Backoff: time.Millisecond, Timeout: time.Second}, nil)

	res, trade, err := s.Submit(context.Background(), buyRequest(), 4.50)
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)
	assert.True(t, res.Success)
	assert.NotNil(t, trade)
}

func TestSubmitter_ExhaustedRetriesFail(t *testing.T) {
	flaky := &flakyAdapter{failures: 5, inner: NewPaperAdapter(0.01, nil)}
	s := NewSubmitter(flaky, SubmitConfig{Retries: 1, Backoff: time.Millisecond, Timeout: time.Second}, nil)

	_, _, err := s.Submit(context.Background(), buyRequest(), 4.50)
	require.Error(t, err)
	assert.Equal(t, 2, flaky.calls, "exactly one retry")
}

// fatalAdapter always fails with a non-transient error.
type fatalAdapter struct{ calls int }

var _ Adapter = (*fatalAdapter)(nil)

func (f *fatalAdapter) Name() string { return "fatal" }
func (f *fatalAdapter) Mode() Mode   { return ModeLive }

func (f *fatalAdapter) SubmitOrder(context.Context, models.OrderRequest, float64) (*models.OrderResult, *models.Trade, error) {
	f.calls++
	return nil, nil, errors.New("account disabled")
}

func TestSubmitter_NonTransientNotRetried(t *testing.T) {
	fatal := &fatalAdapter{}
	s := NewSubmitter(fatal, SubmitConfig{Retries: 1, Backoff: time.Millisecond, Timeout: time.Second}, nil)

	_, _, err := s.Submit(context.Background(), buyRequest(), 4.50)
	require.Error(t, err)
	assert.Equal(t, 1, fatal.calls)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, isTransientError(errors.New("HTTP 503 Service Unavailable")))
	assert.True(t, isTransientError(errors.New("dial tcp: i/o timeout")))
	assert.False(t, isTransientError(errors.New("invalid option symbol")))
	assert.False(t, isTransientError(nil))
}

func TestTrackedAdapter_TransportFailuresTripBreaker(t *testing.T) {
	fatal := &fatalAdapter{}
	health := monitor.NewHealthTracker()
	a := NewTrackedAdapter(fatal, health)

	for i := 0; i < 3; i++ {
		_, _, err := a.SubmitOrder(context.Background(), buyRequest(), 4.50)
		require.Error(t, err)
	}
	assert.Equal(t, monitor.StateDown, health.State("broker"))

	// Open breaker fails fast without reaching the venue.
	_, _, err := a.SubmitOrder(context.Background(), buyRequest(), 4.50)
	require.Error(t, err)
	assert.Equal(t, 3, fatal.calls)
}

func TestTrackedAdapter_RejectionsDoNotCount(t *testing.T) {
	health := monitor.NewHealthTracker()
	a := NewTrackedAdapter(NewPaperAdapter(0.01, nil), health)

	req := buyRequest()
	req.Quantity = 0
	for i := 0; i < 4; i++ {
		res, _, err := a.SubmitOrder(context.Background(), req, 4.50)
		require.NoError(t, err)
		assert.Equal(t, models.OrderRejected, res.Status)
	}
	assert.Equal(t, monitor.StateHealthy, health.State("broker"))
}
