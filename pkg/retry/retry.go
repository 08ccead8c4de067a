package retry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config controls a backoff schedule: how many attempts, how long between
// them, and how fast the gap grows.
type Config struct {
	MaxAttempts  int           // Total attempts including the first (0 means one)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Ceiling the growing delay never exceeds
	Multiplier   float64       // Growth factor per attempt, typically 2.0
	AddJitter    bool          // Spread delays by up to 25% to avoid lockstep
}

// DefaultConfig returns the schedule used for broker publishes: three
// attempts, 100ms then 200ms apart.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, AddJitter: true}
}

// normalized fills zero fields with defaults and rejects nonsense values.
func (cfg Config) normalized() (Config, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return cfg, errors.New("retry: negative delay or multiplier")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	cfg.InitialDelay = cmp.Or(cfg.InitialDelay, 100*time.Millisecond)
	cfg.MaxDelay = cmp.Or(cfg.MaxDelay, 5*time.Second)
	cfg.Multiplier = min(cmp.Or(cfg.Multiplier, 2), 1000)
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay below InitialDelay")
	}
	return cfg, nil
}

// Do runs fn until it returns nil, the schedule is exhausted, or ctx ends.
// An error wrapped by NonRetryable stops the loop and comes back as-is;
// the error from the final attempt stays reachable through the returned
// wrap chain.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	wait := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		lastErr := fn()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry: canceled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("retry: %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
		}

		if err := sleep(ctx, withJitter(wait, cfg.AddJitter)); err != nil {
			return fmt.Errorf("retry: canceled waiting for attempt %d: %w", attempt+1, err)
		}
		wait = nextDelay(wait, cfg)
	}
}

// DelayFor returns the backoff delay before the given attempt (1-based).
// The dispatcher uses it to turn the broker's delivery count into a
// NakWithDelay duration without running the retry loop itself.
func (cfg Config) DelayFor(attempt int) time.Duration {
	norm, err := cfg.normalized()
	if err != nil {
		norm = DefaultConfig()
	}

	wait := norm.InitialDelay
	for i := 1; i < attempt; i++ {
		if wait == norm.MaxDelay {
			break
		}
		wait = nextDelay(wait, norm)
	}
	return withJitter(wait, norm.AddJitter)
}

// sleep blocks for d or until ctx ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextDelay(wait time.Duration, cfg Config) time.Duration {
	grown := float64(wait) * cfg.Multiplier
	if grown >= float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(grown)
}

// withJitter spreads a delay by up to a quarter of its value so parallel
// callers hitting the same failure do not retry in lockstep.
func withJitter(wait time.Duration, add bool) time.Duration {
	if !add || wait <= 0 {
		return wait
	}
	return wait + rand.N(wait/4+1)
}

// NonRetryableError marks an error the loop must not retry.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so Do fails immediately instead of burning the
// remaining attempts. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries the NonRetryable marker.
func IsNonRetryable(err error) bool {
	var marker *NonRetryableError
	return errors.As(err, &marker)
}
