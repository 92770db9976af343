package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff with jitter:
// delay = min(base*2^(attempt-1), max) +/- jitter.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultRetryConfig: base=1s, max=60s, jitter=0.1.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn with exponential backoff, honoring ctx cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0

	maxRetries := uint64(cfg.MaxAttempts - 1)
	withMax := backoff.WithMaxRetries(bo, maxRetries)
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(fn, withCtx)
}

// NextDelay computes the raw (pre-jitter) delay for the given attempt
// number (1-indexed), clamped at MaxDelay — used by the Recovery Manager
// (C7) to report retry_delay without actually sleeping.
func NextDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.InitialDelay)
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= cfg.Multiplier
		if time.Duration(delay) > cfg.MaxDelay {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	d := time.Duration(delay)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// WithJitter applies +/-jitter*delay*(2*rand()-1) clamped to >= 0.
func WithJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}
