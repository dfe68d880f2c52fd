package llm

import (
	"context"
	"fmt"

	"orchid/internal/engine/ports"
	orcherrors "orchid/internal/errors"
	"orchid/internal/logging"
)

// fallbackClient tries the primary client and, only once its retries are
// exhausted, the configured fallback model.
type fallbackClient struct {
	primary  ports.LLMClient
	fallback ports.LLMClient
	logger   logging.Logger
}

// NewFallbackClient chains primary and fallback. fallback may be nil, in
// which case the primary's error is returned as-is.
func NewFallbackClient(primary, fallback ports.LLMClient, logger logging.Logger) ports.LLMClient {
	return &fallbackClient{
		primary:  primary,
		fallback: fallback,
		logger:   logging.OrNop(logger),
	}
}

func (c *fallbackClient) Model() string { return c.primary.Model() }

func (c *fallbackClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	// Caller mistakes (empty messages, bad parameters) fail on any model;
	// don't burn fallback quota on them.
	if orcherrors.IsPermanent(err) && !orcherrors.IsTransient(err) {
		return nil, err
	}

	c.logger.Warn("primary model %s exhausted (%v), falling back to %s",
		c.primary.Model(), err, c.fallback.Model())

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary failed (%v); fallback %s failed: %w",
			err, c.fallback.Model(), fallbackErr)
	}
	return fallbackResp, nil
}

// GatewayConfig assembles a production gateway client.
type GatewayConfig struct {
	Primary  Options
	Fallback *Options // nil disables model fallback
	Retry    orcherrors.RetryConfig
	Breaker  orcherrors.CircuitBreakerConfig
}

// NewGateway builds the full client chain: provider -> retry/breaker ->
// fallback model.
func NewGateway(config GatewayConfig, logger logging.Logger) ports.LLMClient {
	logger = logging.OrNop(logger)

	primary := NewRetryClient(NewOpenAIClient(config.Primary, logger), config.Retry, config.Breaker, logger)

	var fallback ports.LLMClient
	if config.Fallback != nil && config.Fallback.Model != "" {
		fallback = NewRetryClient(NewOpenAIClient(*config.Fallback, logger), config.Retry, config.Breaker, logger)
	}
	return NewFallbackClient(primary, fallback, logger)
}
