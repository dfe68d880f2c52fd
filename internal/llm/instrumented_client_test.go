package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
)

type recordedUsage struct {
	model            string
	status           string
	promptTokens     int
	completionTokens int
}

type captureRecorder struct {
	records []recordedUsage
}

func (r *captureRecorder) RecordLLM(model, status string, _ time.Duration, promptTokens, completionTokens int) {
	r.records = append(r.records, recordedUsage{model, status, promptTokens, completionTokens})
}

func TestInstrumentedClientRecordsUsage(t *testing.T) {
	recorder := &captureRecorder{}
	client := NewInstrumentedClient(NewMockClient("gpt-test",
		MockResponse{Content: "hello"},
		MockResponse{Err: fmt.Errorf("gateway down")}), recorder)

	req := ports.CompletionRequest{Messages: []ports.Message{{Role: "user", Content: "hi"}}}

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	_, err = client.Complete(context.Background(), req)
	require.Error(t, err)

	require.Len(t, recorder.records, 2)
	assert.Equal(t, recordedUsage{"gpt-test", "ok", 20, 30}, recorder.records[0])
	assert.Equal(t, recordedUsage{"gpt-test", "error", 0, 0}, recorder.records[1])
}

func TestInstrumentedClientNilRecorderPassesThrough(t *testing.T) {
	mock := NewMockClient("gpt-test")
	assert.Same(t, ports.LLMClient(mock), NewInstrumentedClient(mock, nil))
}
