// Package retry retries calls that fail because a provider rate-limited them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimited marks errors that are worth retrying after a delay.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError is returned by connectors when the provider rejects a
// request for exceeding its rate limit.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	msg := "rate limit exceeded"
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRateLimited) hold for every RateLimitError.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Policy controls the retry loop.
type Policy struct {
	// MaxAttempts is the total number of calls made, including the first.
	MaxAttempts     int
	InitialDelay    time.Duration
	ExponentialBase float64
	Jitter          bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns 5 attempts starting from a one second delay that
// doubles (plus jitter) on every retry.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialDelay:    time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Do calls fn until it succeeds, returns an error other than a rate limit,
// or the policy runs out of attempts. Before every retry the delay is
// multiplied by ExponentialBase, and by a further random factor in [1, 2)
// when Jitter is set.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(p.InitialDelay)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		factor := p.ExponentialBase
		if p.Jitter {
			factor *= 1 + rand.Float64()
		}
		delay *= factor
		wait := time.Duration(delay)

		logger.Warn("rate limit exceeded, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", wait),
			zap.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}
	}
	return zero, fmt.Errorf("rate limit error after %d attempts: %w", attempts, lastErr)
}

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
