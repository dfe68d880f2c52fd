package llm

import (
	"context"
	"fmt"
	"sync"

	"orchid/internal/engine/ports"
)

// MockClient is a scripted LLM client for tests: it returns the queued
// responses in order and records every request it saw.
type MockClient struct {
	mu        sync.Mutex
	name      string
	responses []MockResponse
	index     int
	Requests  []ports.CompletionRequest
}

// MockResponse is one scripted turn.
type MockResponse struct {
	Content string
	Err     error
}

// NewMockClient builds a scripted client named model.
func NewMockClient(model string, responses ...MockResponse) *MockClient {
	return &MockClient{name: model, responses: responses}
}

// Enqueue appends further scripted responses.
func (m *MockClient) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *MockClient) Model() string { return m.name }

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.index >= len(m.responses) {
		return nil, fmt.Errorf("mock llm: no scripted response for request %d", m.index+1)
	}
	resp := m.responses[m.index]
	m.index++

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &ports.CompletionResponse{
		Content: resp.Content,
		Model:   m.name,
		Usage:   ports.TokenUsage{PromptTokens: 20, CompletionTokens: 30, TotalTokens: 50},
	}, nil
}

// CallCount reports how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
