package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithResultSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", NewTransientError(fmt.Errorf("boom"), "")
		}
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResultStopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, NewPermanentError(fmt.Errorf("bad request"), "invalid input")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestRetryWithResultExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, NewTransientError(fmt.Errorf("still down"), "")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 4, attempts, "initial try plus MaxAttempts retries")
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithResult(ctx, fastRetryConfig(), func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run on a cancelled context")
		return 0, nil
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(fmt.Errorf("x"), "")))
	assert.False(t, IsTransient(NewPermanentError(fmt.Errorf("x"), "")))
	assert.False(t, IsTransient(fmt.Errorf("some business failure")))
	assert.True(t, IsTransient(ClassifyHTTPStatus(503, fmt.Errorf("unavailable"))))
	assert.False(t, IsTransient(ClassifyHTTPStatus(401, fmt.Errorf("unauthorized"))))
	assert.True(t, IsTransient(ClassifyMessage(fmt.Errorf("429 rate limit hit"))))
	assert.False(t, IsTransient(ClassifyMessage(fmt.Errorf("404 model not found"))))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	}, nil)

	fail := func(ctx context.Context) (int, error) { return 0, fmt.Errorf("down") }
	ok := func(ctx context.Context) (int, error) { return 1, nil }

	ctx := context.Background()
	_, _ = Execute(cb, ctx, fail)
	_, _ = Execute(cb, ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	// While open, calls are rejected without reaching fn.
	_, err := Execute(cb, ctx, func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run while circuit is open")
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	// After the timeout the breaker half-opens and a success closes it.
	time.Sleep(15 * time.Millisecond)
	result, err := Execute(cb, ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
	assert.Equal(t, StateClosed, cb.State())
}
