package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, ExponentialBase: 2}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRateLimits(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(5), nil, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &RateLimitError{Provider: "test"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), nil, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(4), nil, func(context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{Provider: "test", Err: errors.New("429")}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "test", rle.Provider)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestDoWrappedSentinelIsRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), nil, func(context.Context) (int, error) {
		calls++
		return 0, errors.Join(errors.New("upstream"), ErrRateLimited)
	})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, calls)
}

func TestDoDelaysGrow(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy(5)
	p.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	_, _ = Do(context.Background(), p, nil, func(context.Context) (int, error) {
		return 0, &RateLimitError{}
	})
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond, 16 * time.Millisecond}, delays)
}

func TestDoJitterBounds(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy(4)
	p.Jitter = true
	p.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	_, _ = Do(context.Background(), p, nil, func(context.Context) (int, error) {
		return 0, &RateLimitError{}
	})
	require.Len(t, delays, 3)
	prev := p.InitialDelay
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 2*prev-time.Nanosecond)
		assert.Less(t, d, 4*prev+4*time.Nanosecond)
		prev = d
	}
}

func TestDoCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, InitialDelay: time.Hour, ExponentialBase: 2}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	_, err := Do(ctx, p, nil, func(context.Context) (int, error) {
		return 0, &RateLimitError{}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoZeroAttemptsStillCalls(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, nil, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{Provider: "openai", Err: errors.New("slow down")}
	assert.Equal(t, "openai: rate limit exceeded: slow down", err.Error())
	assert.True(t, errors.Is(err, ErrRateLimited))
}
