package gex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements Store over an in-memory slice.
type fakeStore struct {
	rows []models.GEXSignal
	err  error
}

var _ Store = (*fakeStore)(nil)

func (f *fakeStore) RecentGEXSignals(ctx context.Context, symbol, timeframe string, limit int) ([]models.GEXSignal, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.GEXSignal
	for _, r := range f.rows {
		if r.Symbol == symbol && r.Timeframe == timeframe {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

var gexNow = time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)

func newService(store Store) *Service {
	return NewService(store, Config{MaxStaleMinutes: 240, StaleWeightReduction: 0.5}).
		WithClock(func() time.Time { return gexNow })
}

func TestNormalizeTimeframe(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1h", "60m"},
		{"4h", "240m"},
		{"1d", "1440m"},
		{"5m", "5m"},
		{"60m", "60m"},
		{"15M", "15m"},
		{"weird", "weird"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTimeframe(tt.in), tt.in)
	}
}

func TestLatestSignalNormalizesLookup(t *testing.T) {
	store := &fakeStore{rows: []models.GEXSignal{
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionCall, Strength: 0.5, Timestamp: gexNow.Add(-time.Hour)},
	}}
	svc := newService(store)

	got, err := svc.LatestSignal(context.Background(), "SPY", "1h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.DirectionCall, got.Direction)

	none, err := svc.LatestSignal(context.Background(), "QQQ", "1h")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStalenessAndWeight(t *testing.T) {
	svc := newService(&fakeStore{})

	fresh := &models.GEXSignal{Timestamp: gexNow.Add(-239 * time.Minute)}
	stale := &models.GEXSignal{Timestamp: gexNow.Add(-241 * time.Minute)}
	boundary := &models.GEXSignal{Timestamp: gexNow.Add(-240 * time.Minute)}

	assert.False(t, svc.IsStale(fresh))
	assert.True(t, svc.IsStale(stale))
	// Stale strictly when age > window
	assert.False(t, svc.IsStale(boundary))

	assert.InDelta(t, 1.0, svc.EffectiveWeight(fresh), 1e-9)
	assert.InDelta(t, 0.5, svc.EffectiveWeight(stale), 1e-9)
}

func TestDetectFlip(t *testing.T) {
	store := &fakeStore{rows: []models.GEXSignal{
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionPut, Timestamp: gexNow.Add(-time.Minute)},
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionCall, Timestamp: gexNow.Add(-time.Hour)},
	}}
	svc := newService(store)

	res, err := svc.DetectFlip(context.Background(), "SPY", "1h")
	require.NoError(t, err)
	assert.True(t, res.HasFlipped)
	assert.Equal(t, models.DirectionPut, res.Current.Direction)
	assert.Equal(t, models.DirectionCall, res.Previous.Direction)
}

func TestDetectFlipRequiresTwoRows(t *testing.T) {
	store := &fakeStore{rows: []models.GEXSignal{
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionCall, Timestamp: gexNow},
	}}
	svc := newService(store)

	res, err := svc.DetectFlip(context.Background(), "SPY", "60m")
	require.NoError(t, err)
	assert.False(t, res.HasFlipped)
	require.NotNil(t, res.Current)
	assert.Nil(t, res.Previous)
}

func TestDetectFlipSameDirection(t *testing.T) {
	store := &fakeStore{rows: []models.GEXSignal{
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionCall, Timestamp: gexNow.Add(-time.Minute)},
		{Symbol: "SPY", Timeframe: "60m", Direction: models.DirectionCall, Timestamp: gexNow.Add(-time.Hour)},
	}}
	svc := newService(store)

	res, err := svc.DetectFlip(context.Background(), "SPY", "60m")
	require.NoError(t, err)
	assert.False(t, res.HasFlipped)
}

func TestStoreErrorPropagates(t *testing.T) {
	svc := newService(&fakeStore{err: errors.New("db closed")})

	_, err := svc.LatestSignal(context.Background(), "SPY", "5m")
	assert.Error(t, err)

	_, err = svc.DetectFlip(context.Background(), "SPY", "5m")
	assert.Error(t, err)
}
