// Package backoff provides pluggable retry delay strategies for
// reconnect loops. All strategies are safe for concurrent use (they are
// stateless).
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many reconnects happen
// simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Retry
// ──────────────────────────────────────────────────

// Retry runs fn up to attempts times, sleeping per s between failures.
// fn receives the 1-indexed attempt number; a nil return stops the
// loop. The delay slept after a failed attempt n is s.Delay(n). Context
// cancellation interrupts the sleep and is returned as the error.
func Retry(ctx context.Context, attempts int, s Strategy, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(s.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("backoff: retry interrupted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("backoff: gave up after %d attempts: %w", attempts, err)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used for relay redials:
// ExponentialWithJitter with 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
