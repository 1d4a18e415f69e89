// Package marketctx serves the latest market-context snapshot with TTL and
// single-flight refresh.
package marketctx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"golang.org/x/sync/singleflight"
)

// ErrContextUnavailable is returned when no fetch succeeds and no prior
// snapshot exists.
var ErrContextUnavailable = errors.New("market context unavailable")

// Fetcher loads a fresh market-context snapshot from an upstream source.
type Fetcher interface {
	FetchContext(ctx context.Context) (*models.ContextData, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*models.ContextData, error)

// FetchContext implements Fetcher.
func (f FetcherFunc) FetchContext(ctx context.Context) (*models.ContextData, error) {
	return f(ctx)
}

// Cache holds the latest ContextData and refreshes it lazily through the
// injected fetcher. Concurrent callers observing an expired entry share one
// fetch via singleflight.
type Cache struct {
	mu      sync.RWMutex
	data    *models.ContextData
	fetched time.Time

	ttl     time.Duration
	fetcher Fetcher
	group   singleflight.Group
	now     func() time.Time
}

// NewCache creates a Cache with the given TTL. fetcher may be nil when
// snapshots arrive exclusively through Put (CONTEXT webhooks).
func NewCache(ttl time.Duration, fetcher Fetcher) *Cache {
	return &Cache{ttl: ttl, fetcher: fetcher, now: time.Now}
}

// WithClock injects a clock for tests and returns the cache.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Put stores a snapshot pushed by a CONTEXT webhook, resetting the TTL.
func (c *Cache) Put(data *models.ContextData) {
	c.mu.Lock()
	c.data = data
	c.fetched = c.now()
	c.mu.Unlock()
}

// Get returns the cached snapshot, refreshing it when expired. When the
// fetch fails, a prior snapshot (even expired) is returned as a degraded
// fallback; with no prior value the error wraps ErrContextUnavailable.
func (c *Cache) Get(ctx context.Context) (*models.ContextData, error) {
	c.mu.RLock()
	data, fetched := c.data, c.fetched
	c.mu.RUnlock()

	if data != nil && c.now().Sub(fetched) <= c.ttl {
		return data, nil
	}

	if c.fetcher == nil {
		if data != nil {
			return data, nil
		}
		return nil, ErrContextUnavailable
	}

	fresh, err, _ := c.group.Do("context", func() (any, error) {
		// Re-check under the flight: another caller may have refreshed.
		c.mu.RLock()
		cur, at := c.data, c.fetched
		c.mu.RUnlock()
		if cur != nil && c.now().Sub(at) <= c.ttl {
			return cur, nil
		}

		got, ferr := c.fetcher.FetchContext(ctx)
		if ferr != nil {
			return nil, ferr
		}
		c.Put(got)
		return got, nil
	})
	if err != nil {
		if data != nil {
			return data, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrContextUnavailable, err)
	}
	return fresh.(*models.ContextData), nil
}
