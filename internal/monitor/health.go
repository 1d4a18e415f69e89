package monitor

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DependencyState is the reported health of a tracked dependency.
type DependencyState string

const (
	// StateHealthy means calls are flowing normally.
	StateHealthy DependencyState = "HEALTHY"
	// StateDegraded means recent failures are accumulating.
	StateDegraded DependencyState = "DEGRADED"
	// StateDown means the breaker is open and calls are short-circuited.
	StateDown DependencyState = "DOWN"
)

// HealthTracker wraps each external dependency (context feed, GEX store,
// broker adapter, quote provider) in a circuit breaker and aggregates their
// states for the health endpoint. A broken dependency degrades decisions
// but never takes the service down.
type HealthTracker struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	started  time.Time
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		started:  time.Now(),
	}
}

// Track registers a dependency and returns its breaker. Calling Track twice
// with the same name returns the existing breaker.
func (h *HealthTracker) Track(name string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	h.breakers[name] = cb
	return cb
}

// Do runs fn through the named dependency's breaker.
func (h *HealthTracker) Do(name string, fn func() (any, error)) (any, error) {
	return h.Track(name).Execute(fn)
}

// State reports the named dependency's health.
func (h *HealthTracker) State(name string) DependencyState {
	h.mu.Lock()
	cb, ok := h.breakers[name]
	h.mu.Unlock()
	if !ok {
		return StateHealthy
	}
	return stateOf(cb)
}

// States returns a snapshot of every tracked dependency.
func (h *HealthTracker) States() map[string]DependencyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]DependencyState, len(h.breakers))
	for name, cb := range h.breakers {
		out[name] = stateOf(cb)
	}
	return out
}

// Uptime reports how long the tracker has been alive.
func (h *HealthTracker) Uptime() time.Duration {
	return time.Since(h.started)
}

func stateOf(cb *gobreaker.CircuitBreaker) DependencyState {
	switch cb.State() {
	case gobreaker.StateOpen:
		return StateDown
	case gobreaker.StateHalfOpen:
		return StateDegraded
	default:
		if cb.Counts().ConsecutiveFailures > 0 {
			return StateDegraded
		}
		return StateHealthy
	}
}
