package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCCSymbol(t *testing.T) {
	exp := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "SPY260918C00450000", OCCSymbol("SPY", exp, DirectionCall, 450))
	assert.Equal(t, "SPY260918P00447500", OCCSymbol("SPY", exp, DirectionPut, 447.5))
	assert.Equal(t, "QQQ260918C00389990", OCCSymbol("QQQ", exp, DirectionCall, 389.99))
}

func TestPositionPnL(t *testing.T) {
	p := &Position{
		ID:         "pos-1",
		SignalID:   "sig-1",
		Direction:  DirectionCall,
		Quantity:   2,
		EntryPrice: 100,
		Status:     PositionOpen,
	}

	assert.InDelta(t, 20000.0, p.UnrealizedPnLAt(200), 1e-9)
	assert.InDelta(t, -4000.0, p.UnrealizedPnLAt(80), 1e-9)
	assert.InDelta(t, 100.0, p.PnLPercentAt(200), 1e-9)
	assert.InDelta(t, 20000.0, p.Notional(), 1e-9)
}

func TestPositionValidate(t *testing.T) {
	base := Position{
		ID:         "pos-1",
		SignalID:   "sig-1",
		Direction:  DirectionCall,
		Quantity:   1,
		EntryPrice: 2.5,
		Status:     PositionOpen,
	}

	require.NoError(t, base.Validate())

	noQty := base
	noQty.Quantity = 0
	assert.Error(t, noQty.Validate())

	badDir := base
	badDir.Direction = "STRADDLE"
	assert.Error(t, badDir.Validate())

	closedNoExit := base
	closedNoExit.Status = PositionClosed
	assert.Error(t, closedNoExit.Validate())

	closed := base
	closed.Status = PositionClosed
	closed.ExitPrice = 3.1
	closed.ExitTime = time.Now()
	assert.NoError(t, closed.Validate())
}

func TestDirectionOpposes(t *testing.T) {
	assert.True(t, DirectionCall.Opposes(DirectionPut))
	assert.False(t, DirectionCall.Opposes(DirectionCall))
	assert.False(t, DirectionCall.Opposes("bogus"))
}

func TestSignalMetadataAccessors(t *testing.T) {
	s := &Signal{
		Price: 450,
		Metadata: map[string]any{
			MetaEntryPrice: 2.35,
			MetaStrike:     "451.5",
			"note":         42,
		},
	}

	assert.InDelta(t, 2.35, s.EntryPrice(), 1e-9)

	strike, ok := s.MetaFloat(MetaStrike)
	require.True(t, ok)
	assert.InDelta(t, 451.5, strike, 1e-9)

	_, ok = s.MetaFloat("missing")
	assert.False(t, ok)

	empty := &Signal{Price: 450}
	assert.InDelta(t, 450.0, empty.EntryPrice(), 1e-9)
}
