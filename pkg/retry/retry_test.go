package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runs short and deterministic.
func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsSchedule(t *testing.T) {
	cause := errors.New("broker gone")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "3 attempts exhausted")
	assert.True(t, errors.Is(err, cause), "final attempt's error must stay reachable")
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cause := errors.New("payload will not marshal")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(cause)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable must not burn the schedule")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsNonRetryable(err))
}

func TestDoSeesCancellationBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastConfig(5), func() error {
		attempts++
		cancel()
		return errors.New("failing while canceled")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDoSeesCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	start := time.Now()
	err := Do(ctx, cfg, func() error {
		return errors.New("keep failing")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"cancellation must cut the backoff sleep short")
}

func TestDoBackoffTiming(t *testing.T) {
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("keep failing")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	// Sleeps of 10, 20, and 40 ms between the four attempts.
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestDoCapsDelayAtMax(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     30 * time.Millisecond,
		Multiplier:   10.0,
	}
	start := time.Now()
	_ = Do(context.Background(), cfg, func() error {
		return errors.New("keep failing")
	})
	elapsed := time.Since(start)

	// Sleeps of 20 then 30 ms; without the cap the second would be 200.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 180*time.Millisecond)
}

func TestDoRejectsBrokenConfig(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return nil
	}

	err := Do(context.Background(), Config{InitialDelay: -time.Second}, fn)
	assert.Error(t, err)

	err = Do(context.Background(), Config{
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Second,
	}, fn)
	assert.Error(t, err)

	assert.Equal(t, 0, attempts, "broken config must fail before the first attempt")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}

func TestDelayForGrowth(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.DelayFor(1))
	assert.Equal(t, 200*time.Millisecond, cfg.DelayFor(2))
	assert.Equal(t, 400*time.Millisecond, cfg.DelayFor(3))
	assert.Equal(t, 5*time.Second, cfg.DelayFor(7), "growth stops at MaxDelay")
	assert.Equal(t, 5*time.Second, cfg.DelayFor(100))
}

func TestDelayForZeroConfigUsesDefaults(t *testing.T) {
	var cfg Config
	assert.Equal(t, 100*time.Millisecond, cfg.DelayFor(1))
	assert.Equal(t, 200*time.Millisecond, cfg.DelayFor(2))
}

func TestDelayForJitterBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
	for i := 0; i < 50; i++ {
		d := cfg.DelayFor(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestNonRetryable(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))

	cause := errors.New("boom")
	err := NonRetryable(cause)
	require.Error(t, err)
	assert.Equal(t, "non-retryable: boom", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsNonRetryable(err))
	assert.False(t, IsNonRetryable(cause))
}
