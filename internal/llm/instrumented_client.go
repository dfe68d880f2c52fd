package llm

import (
	"context"
	"time"

	"orchid/internal/engine/ports"
)

// UsageRecorder receives one record per model gateway round trip.
type UsageRecorder interface {
	RecordLLM(model, status string, latency time.Duration, promptTokens, completionTokens int)
}

// instrumentedClient records latency and token usage for every completion.
type instrumentedClient struct {
	underlying ports.LLMClient
	recorder   UsageRecorder
}

// NewInstrumentedClient wraps client so every completion is reported to
// recorder. A nil recorder returns the client unchanged.
func NewInstrumentedClient(client ports.LLMClient, recorder UsageRecorder) ports.LLMClient {
	if recorder == nil {
		return client
	}
	return &instrumentedClient{underlying: client, recorder: recorder}
}

func (c *instrumentedClient) Model() string { return c.underlying.Model() }

func (c *instrumentedClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	start := time.Now()
	resp, err := c.underlying.Complete(ctx, req)
	latency := time.Since(start)

	if err != nil {
		c.recorder.RecordLLM(c.underlying.Model(), "error", latency, 0, 0)
		return nil, err
	}
	// The response carries the model that actually served the request, which
	// differs from the wrapper's when a fallback kicked in.
	model := resp.Model
	if model == "" {
		model = c.underlying.Model()
	}
	c.recorder.RecordLLM(model, "ok", latency, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}
