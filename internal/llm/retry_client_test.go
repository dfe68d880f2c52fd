package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
	orcherrors "orchid/internal/errors"
)

func fastRetry() orcherrors.RetryConfig {
	return orcherrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func userMessage(content string) []ports.Message {
	return []ports.Message{{Role: "user", Content: content}}
}

func TestRetryClientRejectsEmptyMessagesBeforeNetwork(t *testing.T) {
	mock := NewMockClient("m1", MockResponse{Content: "never"})
	client := NewRetryClient(mock, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil)

	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, mock.CallCount(), "empty messages must be rejected before any call")
}

func TestRetryClientRetriesTransientFailures(t *testing.T) {
	mock := NewMockClient("m1",
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("503"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("503"), "")},
		MockResponse{Content: "recovered"},
	)
	client := NewRetryClient(mock, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil)

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: userMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, mock.CallCount())
}

func TestRetryClientDoesNotRetryPermanentFailures(t *testing.T) {
	mock := NewMockClient("m1",
		MockResponse{Err: orcherrors.NewPermanentError(fmt.Errorf("401"), "bad key")},
	)
	client := NewRetryClient(mock, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil)

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: userMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount())
}

func TestFallbackClientUsesFallbackOnlyAfterPrimaryExhausted(t *testing.T) {
	primary := NewMockClient("primary",
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
	)
	fallback := NewMockClient("fallback", MockResponse{Content: "from fallback"})

	client := NewFallbackClient(
		NewRetryClient(primary, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil),
		fallback, nil)

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: userMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, 3, primary.CallCount(), "primary retried to exhaustion first")
	assert.Equal(t, 1, fallback.CallCount())
}

func TestFallbackClientSkipsFallbackForCallerErrors(t *testing.T) {
	primary := NewMockClient("primary")
	fallback := NewMockClient("fallback", MockResponse{Content: "unused"})

	client := NewFallbackClient(
		NewRetryClient(primary, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil),
		fallback, nil)

	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, fallback.CallCount(), "caller errors must not consume fallback quota")
}

func TestFallbackClientPropagatesWhenBothFail(t *testing.T) {
	primary := NewMockClient("primary",
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("down"), "")},
	)
	fallback := NewMockClient("fallback",
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("also down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("also down"), "")},
		MockResponse{Err: orcherrors.NewTransientError(fmt.Errorf("also down"), "")},
	)

	client := NewFallbackClient(
		NewRetryClient(primary, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil),
		NewRetryClient(fallback, fastRetry(), orcherrors.DefaultCircuitBreakerConfig(), nil),
		nil)

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Messages: userMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback")
}
