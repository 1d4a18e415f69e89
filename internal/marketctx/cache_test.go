package marketctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(vix float64) *models.ContextData {
	return &models.ContextData{
		VIX:       vix,
		Trend:     models.TrendBullish,
		Regime:    models.RegimeNormal,
		Timestamp: time.Now().UTC(),
	}
}

func TestGetFreshFromPut(t *testing.T) {
	c := NewCache(time.Minute, nil)
	c.Put(snapshot(20))

	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.VIX, 1e-9)
}

func TestGetFetchesOnExpiry(t *testing.T) {
	now := time.Now()
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context) (*models.ContextData, error) {
		calls.Add(1)
		return snapshot(25), nil
	})

	c := NewCache(time.Minute, fetcher).WithClock(func() time.Time { return now })
	c.Put(snapshot(20))

	// Fresh: no fetch.
	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.VIX, 1e-9)
	assert.Equal(t, int32(0), calls.Load())

	// Expired: refresh through the fetcher.
	now = now.Add(2 * time.Minute)
	got, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got.VIX, 1e-9)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := FetcherFunc(func(ctx context.Context) (*models.ContextData, error) {
		calls.Add(1)
		<-release
		return snapshot(25), nil
	})

	c := NewCache(time.Minute, fetcher)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			got, err := c.Get(context.Background())
			assert.NoError(t, err)
			assert.InDelta(t, 25.0, got.VIX, 1e-9)
		}()
	}

	// Give the goroutines a moment to pile onto the flight, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetFallsBackToStale(t *testing.T) {
	now := time.Now()
	fetcher := FetcherFunc(func(ctx context.Context) (*models.ContextData, error) {
		return nil, errors.New("feed down")
	})

	c := NewCache(time.Minute, fetcher).WithClock(func() time.Time { return now })
	c.Put(snapshot(20))

	now = now.Add(5 * time.Minute)
	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.VIX, 1e-9)
}

func TestGetUnavailableWithoutPrior(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context) (*models.ContextData, error) {
		return nil, errors.New("feed down")
	})

	c := NewCache(time.Minute, fetcher)
	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, ErrContextUnavailable)

	empty := NewCache(time.Minute, nil)
	_, err = empty.Get(context.Background())
	assert.ErrorIs(t, err, ErrContextUnavailable)
}
