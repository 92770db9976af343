package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsBeforeMaxAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, Jitter: 0}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: 0}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestNextDelayClampsAtMax(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, NextDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, NextDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, NextDelay(cfg, 3))
	assert.Equal(t, 4*time.Second, NextDelay(cfg, 10))
}

func TestWithJitterStaysNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := WithJitter(10*time.Millisecond, 0.5)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestWithJitterZeroReturnsUnchanged(t *testing.T) {
	assert.Equal(t, 5*time.Second, WithJitter(5*time.Second, 0))
}
