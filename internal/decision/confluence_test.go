package decision

import (
	"testing"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
)

func peer(id string, source models.SignalSource, dir models.Direction) models.Signal {
	return models.Signal{
		ID:        id,
		Source:    source,
		Symbol:    "SPY",
		Direction: dir,
		Timeframe: "60m",
	}
}

func TestConfluenceScore(t *testing.T) {
	cc := NewConfluenceCalculator(nil)
	target := callSignal()

	t.Run("empty pool scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, cc.Score(target, nil))
	})

	t.Run("full agreement scores one", func(t *testing.T) {
		peers := []models.Signal{
			peer("p1", models.SourceGEX, models.DirectionCall),
			peer("p2", models.SourceMTF, models.DirectionCall),
		}
		assert.Equal(t, 1.0, cc.Score(target, peers))
	})

	t.Run("weighted partial agreement", func(t *testing.T) {
		peers := []models.Signal{
			peer("p1", models.SourceGEX, models.DirectionCall),   // 0.9 agreeing
			peer("p2", models.SourceManual, models.DirectionPut), // 0.7 disagreeing
		}
		assert.InDelta(t, 0.9/1.6, cc.Score(target, peers), 1e-9)
	})

	t.Run("other symbol or timeframe excluded", func(t *testing.T) {
		other := peer("p1", models.SourceGEX, models.DirectionPut)
		other.Symbol = "QQQ"
		wrongTF := peer("p2", models.SourceMTF, models.DirectionPut)
		wrongTF.Timeframe = "15m"
		assert.Equal(t, 0.0, cc.Score(target, []models.Signal{other, wrongTF}))
	})

	t.Run("target excluded from its own pool", func(t *testing.T) {
		self := *target
		peers := []models.Signal{self, peer("p1", models.SourceGEX, models.DirectionPut)}
		assert.Equal(t, 0.0, cc.Score(target, peers))
	})
}

func TestCategory(t *testing.T) {
	assert.Equal(t, ConfluenceHighCat, Category(0.7))
	assert.Equal(t, ConfluenceHighCat, Category(0.95))
	assert.Equal(t, ConfluenceMediumCat, Category(0.5))
	assert.Equal(t, ConfluenceMediumCat, Category(0.69))
	assert.Equal(t, ConfluenceLowCat, Category(0.49))
	assert.Equal(t, ConfluenceLowCat, Category(0))
}
