// Package marketdata defines the option quote boundary and a simulated
// provider used in paper mode.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
)

// ErrNoQuote is returned when no quote is available for a contract.
var ErrNoQuote = errors.New("no quote available")

// OptionQuote is a point-in-time option price snapshot.
type OptionQuote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	AsOf   time.Time `json:"as_of"`
}

// Mid returns the bid/ask midpoint, falling back to last when the book is
// one-sided.
func (q OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Provider serves option quotes for exit evaluation and order pricing.
type Provider interface {
	GetOptionQuote(ctx context.Context, underlying string, expiration time.Time, strike float64, optionType models.Direction) (*OptionQuote, error)
}

// Tracker runs a call through a named dependency's circuit breaker.
type Tracker interface {
	Do(name string, fn func() (any, error)) (any, error)
}

// trackedProvider reports quote outcomes to a dependency tracker. A missing
// mark is a data condition, not a provider failure, so ErrNoQuote never
// counts against the breaker.
type trackedProvider struct {
	inner   Provider
	tracker Tracker
}

var _ Provider = (*trackedProvider)(nil)

// NewTrackedProvider wraps a provider so the health tracker sees every quote
// call.
func NewTrackedProvider(inner Provider, tracker Tracker) Provider {
	return &trackedProvider{inner: inner, tracker: tracker}
}

func (t *trackedProvider) GetOptionQuote(ctx context.Context, underlying string, expiration time.Time, strike float64, optionType models.Direction) (*OptionQuote, error) {
	var q *OptionQuote
	var qerr error
	_, err := t.tracker.Do("marketdata", func() (any, error) {
		q, qerr = t.inner.GetOptionQuote(ctx, underlying, expiration, strike, optionType)
		if errors.Is(qerr, ErrNoQuote) {
			return nil, nil
		}
		return nil, qerr
	})
	if err != nil && qerr == nil {
		// Breaker open: the call was short-circuited.
		return nil, err
	}
	return q, qerr
}

// SimulatedProvider serves quotes from an in-memory book keyed by OCC
// symbol. Prices are set by tests and by the paper trading loop.
type SimulatedProvider struct {
	mu     sync.RWMutex
	quotes map[string]OptionQuote
	spread float64
	now    func() time.Time
}

var _ Provider = (*SimulatedProvider)(nil)

// NewSimulatedProvider creates an empty simulated book. spread is the
// half-width applied around set marks when building bid/ask.
func NewSimulatedProvider(spread float64) *SimulatedProvider {
	if spread < 0 {
		spread = 0
	}
	return &SimulatedProvider{
		quotes: make(map[string]OptionQuote),
		spread: spread,
		now:    time.Now,
	}
}

// SetMark sets the mark price for a contract, deriving bid and ask from the
// configured spread.
func (p *SimulatedProvider) SetMark(underlying string, expiration time.Time, strike float64, optionType models.Direction, mark float64) {
	symbol := models.OCCSymbol(underlying, expiration, optionType, strike)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = OptionQuote{
		Symbol: symbol,
		Bid:    mark - p.spread,
		Ask:    mark + p.spread,
		Last:   mark,
		AsOf:   p.now().UTC(),
	}
}

// GetOptionQuote implements Provider.
func (p *SimulatedProvider) GetOptionQuote(ctx context.Context, underlying string, expiration time.Time, strike float64, optionType models.Direction) (*OptionQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol := models.OCCSymbol(underlying, expiration, optionType, strike)
	p.mu.RLock()
	q, ok := p.quotes[symbol]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoQuote, symbol)
	}
	copied := q
	return &copied, nil
}
