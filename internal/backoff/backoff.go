// Package backoff computes exponential retry delays with jitter and
// runs retry loops around transient failures.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff curve.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor multiplies the delay on each attempt.
	Factor float64
	// Jitter adds up to this fraction of the base delay at random,
	// spreading out retries from concurrent callers.
	Jitter float64
}

// Default suits one-shot API calls.
func Default() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Connect suits long-lived connection loops that should keep trying
// for as long as the process runs.
func Connect() Policy {
	return Policy{
		Initial: time.Second,
		Max:     time.Minute,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the delay for attempt, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

// delay takes the random jitter fraction as a parameter so tests can
// pin it.
func (p Policy) delay(attempt int, random float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	jitter := base * p.Jitter * random
	total := base + jitter
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits out the delay for attempt, returning early with the
// context's error when it is cancelled first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Permanent wraps err so Retry gives up immediately instead of
// burning the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

// Retry calls fn up to maxAttempts times, sleeping the policy's delay
// between failures. It stops early when fn succeeds, returns an error
// wrapped with Permanent, or the context ends. The final attempt's
// error is returned when every attempt fails.
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.error
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := p.Sleep(ctx, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}
