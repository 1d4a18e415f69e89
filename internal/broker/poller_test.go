package broker

import (
	"context"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPollerStore struct {
	pending  []storage.OrderRow
	statuses map[string]models.OrderStatus
	logs     []string
}

var _ PollerStore = (*memPollerStore)(nil)

func newMemPollerStore() *memPollerStore {
	return &memPollerStore{statuses: make(map[string]models.OrderStatus)}
}

func (m *memPollerStore) PendingOrders(context.Context) ([]storage.OrderRow, error) {
	return m.pending, nil
}

func (m *memPollerStore) UpdateOrderStatus(_ context.Context, orderID string, status models.OrderStatus, _ int, _ float64) error {
	m.statuses[orderID] = status
	return nil
}

func (m *memPollerStore) SaveAdapterLog(_ context.Context, _, _, event, _ string) error {
	m.logs = append(m.logs, event)
	return nil
}

func TestPollerResolvesFilledOrder(t *testing.T) {
	adapter := NewPaperAdapter(0.01, nil)
	res, _, err := adapter.SubmitOrder(context.Background(), models.OrderRequest{
		ID:           "ord-1",
		OptionSymbol: "SPY260306C00450000",
		Side:         models.SideBuyToOpen,
		Quantity:     2,
	}, 4.50)
	require.NoError(t, err)

	store := newMemPollerStore()
	store.pending = []storage.OrderRow{{
		ID:            "ord-1",
		BrokerOrderID: res.BrokerOrderID,
		Status:        models.OrderPending,
		CreatedAt:     time.Now(),
	}}

	p := NewPoller(store, adapter, 10*time.Minute, nil)
	resolved, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, models.OrderFilled, store.statuses["ord-1"])
	assert.Contains(t, store.logs, "reconciled")
}

func TestPollerAgesOutOrphanedOrder(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newMemPollerStore()
	store.pending = []storage.OrderRow{{
		ID:        "ord-orphan",
		Status:    models.OrderPending,
		CreatedAt: now.Add(-15 * time.Minute),
	}}

	p := NewPoller(store, nil, 10*time.Minute, nil).
		WithClock(func() time.Time { return now })
	resolved, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, models.OrderCancelled, store.statuses["ord-orphan"])
	assert.Contains(t, store.logs, "aged_out")
}

func TestPollerLeavesYoungOrphanAlone(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newMemPollerStore()
	store.pending = []storage.OrderRow{{
		ID:        "ord-young",
		Status:    models.OrderPending,
		CreatedAt: now.Add(-2 * time.Minute),
	}}

	p := NewPoller(store, nil, 10*time.Minute, nil).
		WithClock(func() time.Time { return now })
	resolved, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, store.statuses)
}

func TestPollerUnknownBrokerOrderStaysPending(t *testing.T) {
	adapter := NewPaperAdapter(0.01, nil)
	store := newMemPollerStore()
	store.pending = []storage.OrderRow{{
		ID:            "ord-unknown",
		BrokerOrderID: "no-such-order",
		Status:        models.OrderPending,
		CreatedAt:     time.Now(),
	}}

	p := NewPoller(store, adapter, 10*time.Minute, nil)
	resolved, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, store.statuses)
}
