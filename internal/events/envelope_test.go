package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCarriesHeaderAndPayload(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	event := &StepResultEvent{
		BaseEvent:    NewBaseEvent("run-1", 2, at),
		PlanID:       "plan-1",
		StepID:       "s3",
		CapabilityID: "web_fetch",
		Success:      false,
		Critical:     true,
		Error:        "HTTP 503",
		Duration:     1500 * time.Millisecond,
	}

	env := Envelope(event)

	assert.Equal(t, "step_result", env["type"])
	assert.Equal(t, "run-1", env["run_id"])
	assert.Equal(t, 2, env["depth"])
	assert.Equal(t, at, env["at"])
	assert.Equal(t, "s3", env["step_id"])
	assert.Equal(t, true, env["critical"])
	assert.Equal(t, "HTTP 503", env["error"])
	assert.Equal(t, int64(1500), env["duration_ms"])
}

func TestEnvelopeMarshalsPerType(t *testing.T) {
	at := time.Now()
	all := []Event{
		&PlanReadyEvent{BaseEvent: NewBaseEvent("r", 0, at), PlanID: "p", StepCount: 2, StepIDs: []string{"s1", "s2"}},
		&StepStartedEvent{BaseEvent: NewBaseEvent("r", 0, at), StepID: "s1", CapabilityID: "code_execute"},
		&StepResultEvent{BaseEvent: NewBaseEvent("r", 0, at), StepID: "s1", Success: true},
		&DelegationStartedEvent{BaseEvent: NewBaseEvent("r", 0, at), TargetAgentID: "researcher"},
		&DelegationResultEvent{BaseEvent: NewBaseEvent("r", 1, at), TargetAgentID: "researcher", Success: true},
		&ReflectionEvent{BaseEvent: NewBaseEvent("r", 0, at), Decision: "respond"},
		&FinalAnswerEvent{BaseEvent: NewBaseEvent("r", 0, at), Answer: "done", StopReason: "completed"},
		&RunErrorEvent{BaseEvent: NewBaseEvent("r", 0, at), Stage: "plan", Error: "boom"},
	}

	for _, event := range all {
		raw, err := json.Marshal(Envelope(event))
		require.NoError(t, err, event.EventType())

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, event.EventType(), decoded["type"])
		assert.Equal(t, "r", decoded["run_id"])
	}
}
