// Package positions tracks open positions, P&L, and portfolio exposure.
package positions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrDuplicatePosition is returned when a signal already has an open position.
var ErrDuplicatePosition = errors.New("open position already exists for signal")

// ErrPositionNotFound is returned when the requested position is unknown.
var ErrPositionNotFound = errors.New("position not found")

// Store is the persistence subset the manager writes through.
type Store interface {
	SavePosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, p *models.Position) error
	OpenPositions(ctx context.Context) ([]models.Position, error)
}

// Manager exclusively owns Position mutation. The in-memory indices
// (positionId -> Position, signalId -> positionId) are guarded by a single
// exclusive lock; every mutation persists before it is considered committed.
type Manager struct {
	mu               sync.Mutex
	store            Store
	byID             map[string]*models.Position
	bySignal         map[string]string
	maxTotalExposure float64
	logger           *logrus.Logger
	now              func() time.Time
}

// NewManager creates a Manager with an empty index. Call Load to rehydrate
// open positions from the store.
func NewManager(store Store, maxTotalExposure float64, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:            store,
		byID:             make(map[string]*models.Position),
		bySignal:         make(map[string]string),
		maxTotalExposure: maxTotalExposure,
		logger:           logger,
		now:              time.Now,
	}
}

// WithClock injects a clock for tests and returns the manager.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Load rehydrates the in-memory index of OPEN positions from the store.
// Intended for startup.
func (m *Manager) Load(ctx context.Context) error {
	open, err := m.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]*models.Position, len(open))
	m.bySignal = make(map[string]string, len(open))
	for i := range open {
		p := open[i]
		m.byID[p.ID] = &p
		m.bySignal[p.SignalID] = p.ID
	}
	m.logger.WithField("count", len(open)).Info("rehydrated open positions")
	return nil
}

// OpenPosition creates and persists a new OPEN position for the signal.
// A signal that already has an open position is rejected with
// ErrDuplicatePosition. The position is persisted before success returns.
func (m *Manager) OpenPosition(ctx context.Context, sig *models.Signal, quantity int, entryPrice float64, contract models.ContractDetails) (*models.Position, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be > 0 (got %d)", quantity)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be > 0 (got %.4f)", entryPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySignal[sig.ID]; exists {
		return nil, ErrDuplicatePosition
	}

	p := &models.Position{
		ID:            uuid.New().String(),
		SignalID:      sig.ID,
		CorrelationID: sig.CorrelationID,
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		Quantity:      quantity,
		EntryPrice:    entryPrice,
		EntryTime:     m.now().UTC(),
		Status:        models.PositionOpen,
		Contract:      contract,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.SavePosition(ctx, p); err != nil {
		return nil, fmt.Errorf("persisting position: %w", err)
	}

	m.byID[p.ID] = p
	m.bySignal[p.SignalID] = p.ID
	copied := *p
	return &copied, nil
}

// CalculateUnrealizedPnL returns mark-to-market P&L with the standard
// options multiplier.
func (m *Manager) CalculateUnrealizedPnL(p *models.Position, currentPrice float64) float64 {
	return p.UnrealizedPnLAt(currentPrice)
}

// UpdateMark records the latest quote against the position and persists the
// refreshed unrealized P&L.
func (m *Manager) UpdateMark(ctx context.Context, positionID string, currentPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[positionID]
	if !ok {
		return ErrPositionNotFound
	}
	p.CurrentPrice = currentPrice
	p.UnrealizedPnL = p.UnrealizedPnLAt(currentPrice)
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		return fmt.Errorf("persisting mark: %w", err)
	}
	return nil
}

// ClosePosition transitions the position to CLOSED at exitPrice, freezing
// its quantity and setting realized P&L to the unrealized value at that
// price.
func (m *Manager) ClosePosition(ctx context.Context, positionID string, exitPrice float64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return m.closeLocked(ctx, p, exitPrice)
}

// closeLocked performs the close transition, adding the remaining quantity's
// P&L to whatever partial closes already realized. Callers hold m.mu.
func (m *Manager) closeLocked(ctx context.Context, p *models.Position, exitPrice float64) (*models.Position, error) {
	prevRealized := p.RealizedPnL
	p.Status = models.PositionClosed
	p.ExitPrice = exitPrice
	p.ExitTime = m.now().UTC()
	p.RealizedPnL += p.UnrealizedPnLAt(exitPrice)
	p.CurrentPrice = exitPrice
	p.UnrealizedPnL = p.UnrealizedPnLAt(exitPrice)

	if err := m.store.UpdatePosition(ctx, p); err != nil {
		// Revert the in-memory transition so the index never disagrees
		// with the persisted state.
		p.Status = models.PositionOpen
		p.ExitPrice = 0
		p.ExitTime = time.Time{}
		p.RealizedPnL = prevRealized
		return nil, fmt.Errorf("persisting close: %w", err)
	}

	delete(m.byID, p.ID)
	delete(m.bySignal, p.SignalID)
	copied := *p
	return &copied, nil
}

// ReducePosition partially closes a position, shrinking its quantity and
// persisting the remainder. Reducing the full quantity closes it outright.
// The decision and the mutation happen under one lock so a concurrent close
// cannot change the quantity in between.
func (m *Manager) ReducePosition(ctx context.Context, positionID string, closeQty int, exitPrice float64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if closeQty <= 0 {
		return nil, fmt.Errorf("close quantity must be > 0 (got %d)", closeQty)
	}
	if closeQty >= p.Quantity {
		return m.closeLocked(ctx, p, exitPrice)
	}

	p.Quantity -= closeQty
	p.CurrentPrice = exitPrice
	p.UnrealizedPnL = p.UnrealizedPnLAt(exitPrice)
	p.RealizedPnL += (exitPrice - p.EntryPrice) * float64(closeQty) * models.SharesPerContract
	if err := m.store.UpdatePosition(ctx, p); err != nil {
		p.Quantity += closeQty
		return nil, fmt.Errorf("persisting partial close: %w", err)
	}
	copied := *p
	return &copied, nil
}

// GetBySignalID returns the open position for a signal, if any.
func (m *Manager) GetBySignalID(signalID string) (*models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySignal[signalID]
	if !ok {
		return nil, false
	}
	copied := *m.byID[id]
	return &copied, true
}

// GetByID returns the open position with the given id, if any.
func (m *Manager) GetByID(positionID string) (*models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[positionID]
	if !ok {
		return nil, false
	}
	copied := *p
	return &copied, true
}

// Open returns a snapshot of all open positions.
func (m *Manager) Open() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out
}

// TotalExposure sums entry notional across open positions.
func (m *Manager) TotalExposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalExposureLocked()
}

func (m *Manager) totalExposureLocked() float64 {
	var total float64
	for _, p := range m.byID {
		total += p.Notional()
	}
	return total
}

// WouldExceedMaxExposure reports whether adding the given notional would
// push total exposure past the configured cap.
func (m *Manager) WouldExceedMaxExposure(additional float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalExposureLocked()+additional > m.maxTotalExposure
}
