// Package retry runs an operation with bounded exponential backoff.
// Only errors the caller classifies as retryable are retried, and the
// context is checked before every attempt and during every wait.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor applied after each wait

	// OnRetry, if set, is called before each wait with the failed attempt
	// number (starting at 1), its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig is the submission retry policy of the relay.
var DefaultConfig = Config{
	MaxAttempts:  4,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// Validate reports a config that would never run or never back off.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry: invalid delays initial=%v max=%v", c.InitialDelay, c.MaxDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %v", c.Multiplier)
	}
	return nil
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Delay returns the wait that follows the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// WithRetry executes fn until it succeeds, returns a non-retryable error,
// or MaxAttempts is reached. The final error wraps the last failure.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt-1, lastErr)
			}
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := config.Delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt, lastErr)
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
