package llm

import (
	"context"
	"fmt"

	"orchid/internal/engine/ports"
	orcherrors "orchid/internal/errors"
	"orchid/internal/logging"
)

// retryClient wraps an LLM client with retry logic and a circuit breaker.
type retryClient struct {
	underlying  ports.LLMClient
	retryConfig orcherrors.RetryConfig
	breaker     *orcherrors.CircuitBreaker
	logger      logging.Logger
}

// NewRetryClient wraps client with bounded exponential-backoff retries and a
// circuit breaker named after the model.
func NewRetryClient(client ports.LLMClient, retryConfig orcherrors.RetryConfig,
	breakerConfig orcherrors.CircuitBreakerConfig, logger logging.Logger) ports.LLMClient {
	logger = logging.OrNop(logger)
	return &retryClient{
		underlying:  client,
		retryConfig: retryConfig,
		breaker: orcherrors.NewCircuitBreaker(
			fmt.Sprintf("llm-%s", client.Model()), breakerConfig, logger),
		logger: logger,
	}
}

func (c *retryClient) Model() string { return c.underlying.Model() }

func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		// Reject before any retry bookkeeping or network traffic.
		return nil, orcherrors.NewPermanentError(
			fmt.Errorf("empty messages"), "completion request requires at least one message")
	}

	resp, err := orcherrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return orcherrors.Execute(c.breaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)
	if err != nil {
		c.logger.Warn("completion failed after retries (model=%s): %v", c.underlying.Model(), err)
		return nil, err
	}
	return resp, nil
}
