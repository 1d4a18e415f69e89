// Package gex serves gamma-exposure positioning signals with staleness
// weighting and flip detection.
package gex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
)

// Store is the subset of persistence the service reads from.
type Store interface {
	RecentGEXSignals(ctx context.Context, symbol, timeframe string, limit int) ([]models.GEXSignal, error)
}

// FlipResult reports whether gamma positioning flipped between the two most
// recent readings.
type FlipResult struct {
	HasFlipped bool              `json:"has_flipped"`
	Current    *models.GEXSignal `json:"current,omitempty"`
	Previous   *models.GEXSignal `json:"previous,omitempty"`
}

// Config tunes staleness handling.
type Config struct {
	MaxStaleMinutes      int
	StaleWeightReduction float64
}

// Service resolves the latest gamma-exposure readings for decisions.
type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service backed by the given store.
func NewService(store Store, cfg Config) *Service {
	if cfg.MaxStaleMinutes <= 0 {
		cfg.MaxStaleMinutes = 240
	}
	if cfg.StaleWeightReduction <= 0 {
		cfg.StaleWeightReduction = 0.5
	}
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// WithClock injects a clock for tests and returns the service.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NormalizeTimeframe maps hour/day-denominated timeframes onto the
// minute-denominated keys readings are stored under, e.g. "1h" -> "60m".
func NormalizeTimeframe(tf string) string {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if len(tf) < 2 {
		return tf
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil {
		return tf
	}
	switch unit {
	case 'h':
		return fmt.Sprintf("%dm", n*60)
	case 'd':
		return fmt.Sprintf("%dm", n*60*24)
	default:
		return tf
	}
}

// LatestSignal returns the newest reading for symbol/timeframe, or nil when
// none exists.
func (s *Service) LatestSignal(ctx context.Context, symbol, timeframe string) (*models.GEXSignal, error) {
	rows, err := s.store.RecentGEXSignals(ctx, symbol, NormalizeTimeframe(timeframe), 1)
	if err != nil {
		return nil, fmt.Errorf("fetching latest gex signal: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// IsStale reports whether the reading is older than the staleness window.
func (s *Service) IsStale(g *models.GEXSignal) bool {
	return g.Age(s.now()) > time.Duration(s.cfg.MaxStaleMinutes)*time.Minute
}

// EffectiveWeight returns 1.0 for fresh readings and the reduced weight for
// stale ones.
func (s *Service) EffectiveWeight(g *models.GEXSignal) float64 {
	if s.IsStale(g) {
		return 1 - s.cfg.StaleWeightReduction
	}
	return 1.0
}

// DetectFlip compares the two most recent readings. Fewer than two readings
// means no flip.
func (s *Service) DetectFlip(ctx context.Context, symbol, timeframe string) (*FlipResult, error) {
	rows, err := s.store.RecentGEXSignals(ctx, symbol, NormalizeTimeframe(timeframe), 2)
	if err != nil {
		return nil, fmt.Errorf("fetching gex signals for flip detection: %w", err)
	}
	if len(rows) < 2 {
		res := &FlipResult{}
		if len(rows) == 1 {
			res.Current = &rows[0]
		}
		return res, nil
	}
	current, previous := rows[0], rows[1]
	return &FlipResult{
		HasFlipped: current.Direction.Opposes(previous.Direction),
		Current:    &current,
		Previous:   &previous,
	}, nil
}
