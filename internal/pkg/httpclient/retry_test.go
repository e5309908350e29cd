package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(2), func() error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 2, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := WithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
	require.Nil(t, Permanent(nil))
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 408, 500, 502, 503} {
		require.True(t, IsRetryableHTTPStatus(code), code)
	}
	for _, code := range []int{400, 401, 404, 422} {
		require.False(t, IsRetryableHTTPStatus(code), code)
	}
}
