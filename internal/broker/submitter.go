package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/sirupsen/logrus"
)

// SubmitConfig tunes retried submission.
type SubmitConfig struct {
	// Retries is the number of re-attempts after the first failure.
	Retries int
	// Backoff is the base delay before a retry; a jitter of up to a quarter
	// of it is added.
	Backoff time.Duration
	// Timeout bounds the whole submission including retries.
	Timeout time.Duration
}

// DefaultSubmitConfig retries once with a short jittered backoff.
var DefaultSubmitConfig = SubmitConfig{
	Retries: 1,
	Backoff: 500 * time.Millisecond,
	Timeout: 10 * time.Second,
}

// Submitter wraps an Adapter with bounded retries on transient failures.
// Venue rejections (REJECTED results) are final and never retried.
type Submitter struct {
	adapter Adapter
	cfg     SubmitConfig
	logger  *logrus.Logger
}

// NewSubmitter creates a Submitter around the adapter.
func NewSubmitter(adapter Adapter, cfg SubmitConfig, logger *logrus.Logger) *Submitter {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultSubmitConfig.Backoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSubmitConfig.Timeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Submitter{adapter: adapter, cfg: cfg, logger: logger}
}

// Adapter exposes the wrapped adapter.
func (s *Submitter) Adapter() Adapter { return s.adapter }

// Submit runs the order through the adapter, retrying transient errors up to
// the configured count.
func (s *Submitter) Submit(ctx context.Context, req models.OrderRequest, basePrice float64) (*models.OrderResult, *models.Trade, error) {
	subCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if err := subCtx.Err(); err != nil {
			return nil, nil, fmt.Errorf("submission timed out: %w", err)
		}

		res, trade, err := s.adapter.SubmitOrder(subCtx, req, basePrice)
		if err == nil {
			return res, trade, nil
		}
		lastErr = err
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": req.ID,
			"attempt":  attempt + 1,
		}).Warn("order submission failed")

		if !isTransientError(err) || attempt == s.cfg.Retries {
			break
		}
		select {
		case <-time.After(jittered(s.cfg.Backoff)):
		case <-subCtx.Done():
			return nil, nil, fmt.Errorf("submission timed out during backoff: %w", subCtx.Err())
		}
	}
	return nil, nil, fmt.Errorf("order %s failed after %d attempts: %w", req.ID, s.cfg.Retries+1, lastErr)
}

// jittered adds up to a quarter of the backoff as random jitter.
func jittered(backoff time.Duration) time.Duration {
	maxJitter := int64(backoff / 4)
	if maxJitter <= 0 {
		return backoff
	}
	j, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return backoff
	}
	return backoff + time.Duration(j.Int64())
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
