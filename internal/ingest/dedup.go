package ingest

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
)

// Fingerprint derives a stable duplicate-detection key from the fields that
// identify a signal: source, symbol, direction, timeframe, the timestamp
// rounded to the minute, and the contract hints (strike, expiration) so two
// materially different payloads in the same minute never collide.
func Fingerprint(sig *models.Signal) string {
	rounded := sig.Timestamp.UTC().Truncate(time.Minute).Unix()
	strike := ""
	if v, ok := sig.MetaFloat(models.MetaStrike); ok {
		strike = strconv.FormatFloat(v, 'f', -1, 64)
	}
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s",
		sig.Source, sig.Symbol, sig.Direction, sig.Timeframe, rounded,
		strike, sig.MetaString(models.MetaExpiration))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type dedupEntry struct {
	fingerprint string
	insertedAt  time.Time
}

// DedupCache rejects repeated fingerprints inside a TTL window.
//
// The size bound is advisory: entries are evicted oldest-first, but only
// once their TTL has elapsed, so a lookup within the window can never miss a
// previously seen fingerprint.
type DedupCache struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // oldest at front
	now        func() time.Time
}

// NewDedupCache creates a cache with the given suppression window and
// advisory size bound.
func NewDedupCache(window time.Duration, maxEntries int) *DedupCache {
	return &DedupCache{
		window:     window,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// WithClock injects a clock for tests and returns the cache.
func (c *DedupCache) WithClock(now func() time.Time) *DedupCache {
	c.now = now
	return c
}

// Seen records the fingerprint and reports whether it was already present
// within the window. The first call inserts and returns false; repeat calls
// within the window return true without refreshing the entry.
func (c *DedupCache) Seen(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if el, ok := c.entries[fingerprint]; ok {
		entry := el.Value.(*dedupEntry)
		if now.Sub(entry.insertedAt) <= c.window {
			return true
		}
		// Expired entry lingering past eviction; replace it.
		c.order.Remove(el)
		delete(c.entries, fingerprint)
	}

	el := c.order.PushBack(&dedupEntry{fingerprint: fingerprint, insertedAt: now})
	c.entries[fingerprint] = el
	return false
}

// Len returns the current number of tracked fingerprints.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictExpired removes expired entries oldest-first. Entries still inside
// their TTL are never evicted, even when the cache is over its size bound:
// the bound is advisory and correctness wins. Below the bound, pruning is
// amortized to a few entries per call.
func (c *DedupCache) evictExpired(now time.Time) {
	pruned := 0
	for el := c.order.Front(); el != nil; {
		entry := el.Value.(*dedupEntry)
		if now.Sub(entry.insertedAt) <= c.window {
			break
		}
		if c.order.Len() <= c.maxEntries && pruned >= 8 {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, entry.fingerprint)
		el = next
		pruned++
	}
}
