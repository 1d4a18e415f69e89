package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/broker"
	"github.com/mstanton/tradepulse/internal/decision"
	"github.com/mstanton/tradepulse/internal/gex"
	"github.com/mstanton/tradepulse/internal/marketdata"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/positions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubContext satisfies decision.ContextProvider; exits never consult it.
type stubContext struct{}

var _ decision.ContextProvider = stubContext{}

func (stubContext) Get(context.Context) (*models.ContextData, error) {
	return &models.ContextData{VIX: 20, Trend: models.TrendNeutral, Regime: models.RegimeNormal}, nil
}

// stubGEX serves a canned flip result.
type stubGEX struct {
	flip gex.FlipResult
}

var _ decision.GEXProvider = (*stubGEX)(nil)

func (s *stubGEX) LatestSignal(context.Context, string, string) (*models.GEXSignal, error) {
	return nil, nil
}
func (s *stubGEX) EffectiveWeight(*models.GEXSignal) float64 { return 1.0 }
func (s *stubGEX) DetectFlip(context.Context, string, string) (*gex.FlipResult, error) {
	f := s.flip
	return &f, nil
}

// memOrderStore records order activity in memory.
type memOrderStore struct {
	mu     sync.Mutex
	orders []models.OrderRequest
	trades []models.Trade
}

var _ OrderStore = (*memOrderStore)(nil)

func (s *memOrderStore) SaveOrder(_ context.Context, req *models.OrderRequest, _ *models.OrderResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, *req)
	return nil
}

func (s *memOrderStore) UpdateOrderStatus(context.Context, string, models.OrderStatus, int, float64) error {
	return nil
}

func (s *memOrderStore) SaveTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

// memPositionStore is the positions.Manager persistence stub.
type memPositionStore struct{}

var _ positions.Store = (*memPositionStore)(nil)

func (memPositionStore) SavePosition(context.Context, *models.Position) error   { return nil }
func (memPositionStore) UpdatePosition(context.Context, *models.Position) error { return nil }
func (memPositionStore) OpenPositions(context.Context) ([]models.Position, error) {
	return nil, nil
}

type workerFixture struct {
	worker    *ExitWorker
	positions *positions.Manager
	quotes    *marketdata.SimulatedProvider
	orders    *memOrderStore
}

func newWorkerFixture(t *testing.T, g *stubGEX) *workerFixture {
	t.Helper()
	if g == nil {
		g = &stubGEX{}
	}
	posManager := positions.NewManager(memPositionStore{}, 1_000_000, nil)
	orch := decision.NewOrchestrator(
		stubContext{}, g,
		decision.NewRiskManager(decision.RiskConfig{MaxVIXForEntry: 35}),
		decision.NewConfluenceCalculator(nil),
		decision.NewSizer(decision.SizingConfig{BaseSize: 2, KellyFraction: 0.5, MinSize: 1, MaxSize: 10}),
		posManager,
		decision.OrchestratorConfig{BaseConfidence: 50, GEXAdjustmentRange: 15, ProfitTargetPercent: 50, StopLossPercent: -30},
		nil,
	)
	quotes := marketdata.NewSimulatedProvider(0)
	orders := &memOrderStore{}
	w := NewExitWorker(
		posManager, orch, quotes,
		broker.NewSubmitter(broker.NewPaperAdapter(0.01, nil), broker.DefaultSubmitConfig, nil),
		orders, nil, nil, nil,
	)
	return &workerFixture{worker: w, positions: posManager, quotes: quotes, orders: orders}
}

var expiration = time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

func openTestPosition(t *testing.T, f *workerFixture, qty int, entryPrice float64) *models.Position {
	t.Helper()
	sig := &models.Signal{
		ID:            "sig-" + time.Now().Format("150405.000000000"),
		CorrelationID: "corr-1",
		Source:        models.SourceTradingView,
		Symbol:        "SPY",
		Direction:     models.DirectionCall,
		Timeframe:     "60m",
		Price:         450,
	}
	p, err := f.positions.OpenPosition(context.Background(), sig, qty, entryPrice, models.ContractDetails{
		Underlying: "SPY",
		Strike:     450,
		Expiration: expiration,
		OptionType: models.DirectionCall,
		Timeframe:  "60m",
	})
	require.NoError(t, err)
	return p
}

func TestSweep_ProfitTargetPartialExit(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 2, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 1.60)

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Exited)

	outcome := res.Outcomes[0]
	assert.Equal(t, models.ExitProfitTarget, outcome.ExitReason)
	assert.Equal(t, 1, outcome.ClosedQty, "profit target scales out half")

	remaining, ok := f.positions.GetByID(p.ID)
	require.True(t, ok, "half the position stays open")
	assert.Equal(t, 1, remaining.Quantity)

	require.Len(t, f.orders.orders, 1)
	assert.Equal(t, models.SideSellToClose, f.orders.orders[0].Side)
	assert.Equal(t, 1, f.orders.orders[0].Quantity)
}

func TestSweep_ProfitTargetSingleContractClosesFully(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 1, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 1.60)

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Exited)

	_, ok := f.positions.GetByID(p.ID)
	assert.False(t, ok, "single contract cannot scale out")
}

func TestSweep_StopLossFullExit(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 2, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 0.65)

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Exited)
	assert.Equal(t, models.ExitStopLoss, res.Outcomes[0].ExitReason)
	assert.Equal(t, 2, res.Outcomes[0].ClosedQty)

	_, ok := f.positions.GetByID(p.ID)
	assert.False(t, ok)
}

func TestSweep_GEXFlipExit(t *testing.T) {
	g := &stubGEX{flip: gex.FlipResult{
		HasFlipped: true,
		Previous:   &models.GEXSignal{Direction: models.DirectionCall},
		Current:    &models.GEXSignal{Direction: models.DirectionPut},
	}}
	f := newWorkerFixture(t, g)
	openTestPosition(t, f, 2, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 1.10)

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Exited)
	assert.Equal(t, models.ExitGEXFlip, res.Outcomes[0].ExitReason)
	assert.Equal(t, 2, res.Outcomes[0].ClosedQty, "non-profit exits close flat")
}

func TestSweep_HoldUpdatesMark(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 2, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 1.10)

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Held)

	got, ok := f.positions.GetByID(p.ID)
	require.True(t, ok)
	assert.InDelta(t, 1.10, got.CurrentPrice, 1e-9)
	assert.InDelta(t, 20.0, got.UnrealizedPnL, 1e-9)
}

func TestSweep_QuoteUnavailableSkips(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 2, 1.00)
	// No quote set for the contract.

	res, err := f.worker.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Exited)

	_, ok := f.positions.GetByID(p.ID)
	assert.True(t, ok, "unquotable positions stay open")
}

func TestSweep_DryRunExecutesNothing(t *testing.T) {
	f := newWorkerFixture(t, nil)
	p := openTestPosition(t, f, 2, 1.00)
	f.quotes.SetMark("SPY", expiration, 450, models.DirectionCall, 1.60)

	res, err := f.worker.Sweep(context.Background(), true)
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, 1, res.Exited, "dry run still reports the decision")

	got, ok := f.positions.GetByID(p.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.Quantity, "nothing executed")
	assert.Empty(t, f.orders.orders)
}

func TestSweep_SingletonGate(t *testing.T) {
	f := newWorkerFixture(t, nil)

	f.worker.running.Store(true)
	_, err := f.worker.Sweep(context.Background(), false)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	f.worker.running.Store(false)
	_, err = f.worker.Sweep(context.Background(), false)
	assert.NoError(t, err)
}
