package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	saved   []models.Position
	updated []models.Position
	open    []models.Position
	saveErr error
	updErr  error
}

var _ Store = (*memStore)(nil)

func (s *memStore) SavePosition(_ context.Context, p *models.Position) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *p)
	return nil
}

func (s *memStore) UpdatePosition(_ context.Context, p *models.Position) error {
	if s.updErr != nil {
		return s.updErr
	}
	s.updated = append(s.updated, *p)
	return nil
}

func (s *memStore) OpenPositions(_ context.Context) ([]models.Position, error) {
	return s.open, nil
}

func testSignal(id string) *models.Signal {
	return &models.Signal{
		ID:            id,
		CorrelationID: "corr-" + id,
		Source:        models.SourceTradingView,
		Symbol:        "SPY",
		Direction:     models.DirectionCall,
		Timeframe:     "60m",
		Price:         4.50,
	}
}

func testContract() models.ContractDetails {
	return models.ContractDetails{
		Underlying: "SPY",
		Strike:     450,
		Expiration: time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		OptionType: models.DirectionCall,
		Timeframe:  "60m",
	}
}

func TestOpenPosition(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, 100_000, nil)

	p, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 4.50, testContract())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "sig-1", p.SignalID)
	assert.Equal(t, models.PositionOpen, p.Status)
	assert.Len(t, store.saved, 1, "position persisted before success")

	got, ok := m.GetBySignalID("sig-1")
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)
}

func TestOpenPosition_DuplicateSignalRejected(t *testing.T) {
	m := NewManager(&memStore{}, 100_000, nil)

	_, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 4.50, testContract())
	require.NoError(t, err)

	_, err = m.OpenPosition(context.Background(), testSignal("sig-1"), 1, 4.60, testContract())
	assert.ErrorIs(t, err, ErrDuplicatePosition)
	assert.Len(t, m.Open(), 1)
}

func TestOpenPosition_PersistFailureLeavesNoIndexEntry(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	m := NewManager(store, 100_000, nil)

	_, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 4.50, testContract())
	require.Error(t, err)

	_, ok := m.GetBySignalID("sig-1")
	assert.False(t, ok, "failed persist must not leave a tracked position")
}

func TestClosePosition(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, 100_000, nil)

	p, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 1.00, testContract())
	require.NoError(t, err)

	closed, err := m.ClosePosition(context.Background(), p.ID, 1.50)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, closed.Status)
	assert.Equal(t, 1.50, closed.ExitPrice)
	assert.InDelta(t, 100.0, closed.RealizedPnL, 1e-9)
	assert.False(t, closed.ExitTime.IsZero())

	_, ok := m.GetByID(p.ID)
	assert.False(t, ok, "closed positions leave the open index")
	assert.Zero(t, m.TotalExposure())
}

func TestClosePosition_PersistFailureKeepsOpen(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, 100_000, nil)
	p, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 1.00, testContract())
	require.NoError(t, err)

	store.updErr = errors.New("disk full")
	_, err = m.ClosePosition(context.Background(), p.ID, 1.50)
	require.Error(t, err)

	got, ok := m.GetByID(p.ID)
	require.True(t, ok)
	assert.Equal(t, models.PositionOpen, got.Status)
}

func TestReducePosition(t *testing.T) {
	store := &memStore{}
	m := NewManager(store, 100_000, nil)
	p, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 3, 1.00, testContract())
	require.NoError(t, err)

	remaining, err := m.ReducePosition(context.Background(), p.ID, 1, 1.60)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining.Quantity)
	assert.Equal(t, models.PositionOpen, remaining.Status)
	assert.InDelta(t, 60.0, remaining.RealizedPnL, 1e-9)

	// Reducing by at least the full quantity closes outright, and the close
	// keeps the P&L already realized by the partial.
	closed, err := m.ReducePosition(context.Background(), p.ID, 2, 1.60)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, closed.Status)
	assert.InDelta(t, 180.0, closed.RealizedPnL, 1e-9)

	_, ok := m.GetByID(p.ID)
	assert.False(t, ok, "full reduce leaves the open index")
}

func TestExposure(t *testing.T) {
	m := NewManager(&memStore{}, 2_000, nil)

	_, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 2, 4.50, testContract())
	require.NoError(t, err)

	assert.InDelta(t, 900.0, m.TotalExposure(), 1e-9)
	assert.False(t, m.WouldExceedMaxExposure(1_100))
	assert.True(t, m.WouldExceedMaxExposure(1_101))
}

func TestLoadRehydratesOpenPositions(t *testing.T) {
	store := &memStore{open: []models.Position{
		{
			ID: "pos-1", SignalID: "sig-1", Symbol: "SPY",
			Direction: models.DirectionCall, Quantity: 2, EntryPrice: 4.50,
			EntryTime: time.Now(), Status: models.PositionOpen,
		},
	}}
	m := NewManager(store, 100_000, nil)

	require.NoError(t, m.Load(context.Background()))

	got, ok := m.GetBySignalID("sig-1")
	require.True(t, ok)
	assert.Equal(t, "pos-1", got.ID)

	_, err := m.OpenPosition(context.Background(), testSignal("sig-1"), 1, 4.50, testContract())
	assert.ErrorIs(t, err, ErrDuplicatePosition, "rehydrated positions block duplicates")
}

func TestCalculateUnrealizedPnL(t *testing.T) {
	m := NewManager(&memStore{}, 100_000, nil)
	p := &models.Position{Quantity: 2, EntryPrice: 1.00}

	assert.InDelta(t, 100.0, m.CalculateUnrealizedPnL(p, 1.50), 1e-9)
	assert.InDelta(t, -60.0, m.CalculateUnrealizedPnL(p, 0.70), 1e-9)
}
