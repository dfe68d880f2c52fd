// Package llm implements the language-model gateway: an OpenAI-compatible
// HTTP client wrapped with retry/backoff, a circuit breaker, and a
// configured fallback model. Only a gateway-exhausted failure propagates to
// callers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orchid/internal/engine/ports"
	orcherrors "orchid/internal/errors"
	"orchid/internal/logging"
)

// Options configures one provider client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient constructs a bare provider client. Most callers want
// NewGateway, which layers retry and fallback on top.
func NewOpenAIClient(opts Options, logger logging.Logger) ports.LLMClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &openaiClient{
		model:      opts.Model,
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		headers:    opts.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, orcherrors.NewPermanentError(
			fmt.Errorf("empty messages"), "completion request requires at least one message")
	}

	body := map[string]any{
		"model":    c.model,
		"messages": c.convertMessages(req),
		"stream":   false,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.ResponseMode == ports.ResponseModePlan {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, orcherrors.NewPermanentError(err, "failed to encode completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, orcherrors.NewPermanentError(err, "failed to build completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, orcherrors.ClassifyMessage(fmt.Errorf("completion request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, orcherrors.NewTransientError(err, "failed to read completion response")
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("completion returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
		return nil, orcherrors.ClassifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("chat completion: %s", truncate(string(raw), 200)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, orcherrors.NewTransientError(err, "failed to decode completion response")
	}
	if len(parsed.Choices) == 0 {
		return nil, orcherrors.NewTransientError(fmt.Errorf("no choices in response"), "model returned an empty response")
	}

	c.logger.Debug("completion ok: model=%s, tokens=%d, took=%v",
		c.model, parsed.Usage.TotalTokens, time.Since(start).Round(time.Millisecond))

	return &ports.CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   c.model,
		Usage: ports.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// convertMessages folds the system prompt and capability catalog into the
// OpenAI message list.
func (c *openaiClient) convertMessages(req ports.CompletionRequest) []map[string]string {
	messages := make([]map[string]string, 0, len(req.Messages)+1)

	system := req.SystemPrompt
	if len(req.Capabilities) > 0 {
		system = strings.TrimSpace(system + "\n\n" + renderCapabilities(req.Capabilities))
	}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role == "tool" {
			// Tool observations travel as user turns in the planner protocol.
			role = "user"
		}
		messages = append(messages, map[string]string{"role": role, "content": msg.Content})
	}
	return messages
}

// renderCapabilities serializes capability descriptors into prompt text.
func renderCapabilities(capabilities []ports.CapabilityDescriptor) string {
	var sb strings.Builder
	sb.WriteString("Available capabilities:\n")
	for _, capability := range capabilities {
		schema, _ := json.Marshal(capability.InputSchema)
		fmt.Fprintf(&sb, "- id=%s kind=%s: %s (input schema: %s)\n",
			capability.ID, capability.Kind, capability.Description, schema)
		for _, sub := range capability.SubCapabilities {
			fmt.Fprintf(&sb, "    peer capability: id=%s kind=%s: %s\n", sub.ID, sub.Kind, sub.Description)
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
