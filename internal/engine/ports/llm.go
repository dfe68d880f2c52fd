package ports

import "context"

// ResponseMode selects the shape of a completion response.
type ResponseMode string

const (
	// ResponseModeText asks for free-form prose.
	ResponseModeText ResponseMode = "text"
	// ResponseModePlan asks for a single JSON object (structured plan).
	ResponseModePlan ResponseMode = "structured_plan"
)

// CompletionRequest contains all parameters for one LLM completion.
type CompletionRequest struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	// Capabilities describes what the agent may invoke, serialized into the
	// prompt so the model can target them.
	Capabilities []CapabilityDescriptor `json:"capabilities,omitempty"`
	ResponseMode ResponseMode           `json:"response_mode,omitempty"`
	Temperature  float64                `json:"temperature,omitempty"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption of one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the LLM's response.
type CompletionResponse struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
	Model   string     `json:"model,omitempty"`
}

// LLMClient represents any language-model provider. Implementations carry
// their own retry/backoff and model fallback; only an exhausted failure
// propagates to the caller.
type LLMClient interface {
	// Complete sends messages and returns a response. An empty Messages slice
	// is a caller error, rejected before any network call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}
