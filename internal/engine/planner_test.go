package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
	"orchid/internal/llm"
)

func TestParsePlanJSONToleratesWrapping(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"clean", `{"rationale":"r","steps":[{"id":"s1","capability_id":"fetch"}]}`},
		{"fenced", "```json\n{\"rationale\":\"r\",\"steps\":[{\"id\":\"s1\",\"capability_id\":\"fetch\"}]}\n```"},
		{"prose wrapped", `Here is the plan you asked for:
{"rationale":"r","steps":[{"id":"s1","capability_id":"fetch"}]}
Let me know if that works.`},
		{"trailing comma repaired", `{"rationale":"r","steps":[{"id":"s1","capability_id":"fetch"},]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dto, err := parsePlanJSON(tc.content)
			require.NoError(t, err)
			require.Len(t, dto.Steps, 1)
			assert.Equal(t, "fetch", dto.Steps[0].CapabilityID)
		})
	}
}

func TestParsePlanJSONRejectsGarbage(t *testing.T) {
	for _, content := range []string{"", "   ", "I cannot produce a plan.", "[1,2,3]"} {
		_, err := parsePlanJSON(content)
		assert.Error(t, err, "content: %q", content)
	}
}

func TestPlannerRetriesOnceOnInvalidPlan(t *testing.T) {
	fetch := &scriptedTool{id: "fetch", idempotent: true}
	snapshot := agentSnapshot("analyst", fetch)

	client := llm.NewMockClient("mock",
		llm.MockResponse{Content: `{"rationale":"r","steps":[{"id":"s1","capability_id":"nonexistent"}]}`},
		llm.MockResponse{Content: `{"rationale":"r","steps":[{"id":"s1","capability_id":"fetch"}]}`})
	p := newPlanner(client, 24000, nil)

	plan, err := p.plan(context.Background(), snapshot, []ports.Message{{Role: "user", Content: "go"}})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "fetch", plan.Steps[0].CapabilityID)
	assert.Equal(t, 2, client.CallCount())

	// The retry carries the broken output and a correction turn.
	retry := client.Requests[1]
	require.NotEmpty(t, retry.Messages)
	last := retry.Messages[len(retry.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "invalid")
}

func TestPlannerFailsAfterSecondInvalidPlan(t *testing.T) {
	snapshot := agentSnapshot("analyst")
	client := llm.NewMockClient("mock",
		llm.MockResponse{Content: "not json"},
		llm.MockResponse{Content: "still not json"})
	p := newPlanner(client, 24000, nil)

	_, err := p.plan(context.Background(), snapshot, []ports.Message{{Role: "user", Content: "go"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
	assert.Equal(t, 2, client.CallCount())
}

func TestBuildPlanFillsDefaultsAndDelegationFlag(t *testing.T) {
	fetch := &scriptedTool{id: "fetch", idempotent: true}
	snapshot := ports.NewSnapshot(
		ports.AgentProfile{ID: "coordinator", OrgID: "acme"},
		[]ports.CapabilityDescriptor{
			fetch.Descriptor(),
			{Kind: ports.KindSubAgent, ID: "analyst"},
		},
		map[string]ports.Tool{"fetch": fetch},
		nil,
		map[string]ports.AgentProfile{"analyst": {ID: "analyst"}})
	p := newPlanner(llm.NewMockClient("mock"), 24000, nil)

	plan, err := p.buildPlan(
		`{"steps":[{"capability_id":"fetch"},{"capability_id":"analyst","params":{"task":"dig"}}]}`,
		snapshot)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "s1", plan.Steps[0].ID, "missing step ids are filled in positionally")
	assert.Equal(t, "s2", plan.Steps[1].ID)
	assert.True(t, plan.Steps[0].Idempotent, "idempotence mirrors the capability declaration")
	assert.True(t, plan.RequiresDelegation)
	assert.NotEmpty(t, plan.ID)
}

func TestObserveDecisions(t *testing.T) {
	req := startRequest("analyst", "task")
	ok := ports.ActionResult{StepID: "s1", CapabilityID: "fetch", Success: true, Output: "data"}
	criticalFail := ports.ActionResult{StepID: "s2", CapabilityID: "fetch", Critical: true, Error: "backend unreachable"}
	semanticFail := ports.ActionResult{StepID: "s3", CapabilityID: "fetch", Error: "missing required parameter"}

	t.Run("any usable result responds", func(t *testing.T) {
		state := newRunState("r", req, "", time.Now())
		obs := observe([]ports.ActionResult{ok, criticalFail}, state, 3)
		assert.Equal(t, decisionRespond, obs.decision)
		assert.Contains(t, obs.reflection, "partial")
	})

	t.Run("all critical with budget replans", func(t *testing.T) {
		state := newRunState("r", req, "", time.Now())
		obs := observe([]ports.ActionResult{criticalFail}, state, 3)
		assert.Equal(t, decisionReplan, obs.decision)
	})

	t.Run("budget exhausted answers with error", func(t *testing.T) {
		state := newRunState("r", req, "", time.Now())
		state.replans = 3
		obs := observe([]ports.ActionResult{criticalFail}, state, 3)
		assert.Equal(t, decisionRespondError, obs.decision)
	})

	t.Run("semantic failures never replan", func(t *testing.T) {
		state := newRunState("r", req, "", time.Now())
		obs := observe([]ports.ActionResult{semanticFail}, state, 3)
		assert.Equal(t, decisionRespondError, obs.decision)
	})

	t.Run("earlier usable result counts", func(t *testing.T) {
		state := newRunState("r", req, "", time.Now())
		plan := &ports.Plan{ID: "p1", Steps: []ports.PlanStep{{ID: "s1", CapabilityID: "fetch"}}}
		state.appendResults(plan, []ports.ActionResult{ok})
		obs := observe([]ports.ActionResult{criticalFail}, state, 3)
		assert.Equal(t, decisionRespond, obs.decision)
	})
}

func TestStepSignatureIgnoresIDAndGroup(t *testing.T) {
	base := ports.PlanStep{ID: "s1", CapabilityID: "charge_card",
		Params: map[string]any{"amount": 42, "currency": "EUR"}, ExecutionGroup: 0}
	renamed := ports.PlanStep{ID: "s9", CapabilityID: "charge_card",
		Params: map[string]any{"currency": "EUR", "amount": 42}, ExecutionGroup: 3}
	changed := ports.PlanStep{ID: "s1", CapabilityID: "charge_card",
		Params: map[string]any{"amount": 99, "currency": "EUR"}}

	assert.Equal(t, stepSignature(base), stepSignature(renamed))
	assert.NotEqual(t, stepSignature(base), stepSignature(changed))
	assert.Equal(t, "fetch", stepSignature(ports.PlanStep{CapabilityID: "fetch"}))
}

func TestResponderNeverFails(t *testing.T) {
	req := startRequest("analyst", "fetch the page")

	t.Run("model answer wins", func(t *testing.T) {
		r := newResponder(llm.NewMockClient("mock", llm.MockResponse{Content: "  The answer.  "}), 24000, nil)
		state := newRunState("r", req, "", time.Now())
		assert.Equal(t, "The answer.", r.respond(context.Background(), nil, state))
	})

	t.Run("degrades to assembled results", func(t *testing.T) {
		r := newResponder(llm.NewMockClient("mock", llm.MockResponse{Err: fmt.Errorf("down")}), 24000, nil)
		state := newRunState("r", req, "", time.Now())
		plan := &ports.Plan{ID: "p1", Steps: []ports.PlanStep{{ID: "s1", CapabilityID: "fetch"}}}
		state.appendResults(plan, []ports.ActionResult{
			{StepID: "s1", CapabilityID: "fetch", Success: true, Output: "raw page text"},
		})
		answer := r.respond(context.Background(), nil, state)
		assert.Contains(t, answer, "raw page text")
	})

	t.Run("explicit error answer with nothing usable", func(t *testing.T) {
		r := newResponder(llm.NewMockClient("mock", llm.MockResponse{Err: fmt.Errorf("down")}), 24000, nil)
		state := newRunState("r", req, "", time.Now())
		plan := &ports.Plan{ID: "p1", Steps: []ports.PlanStep{{ID: "s1", CapabilityID: "fetch"}}}
		state.appendResults(plan, []ports.ActionResult{
			{StepID: "s1", CapabilityID: "fetch", Error: "connection refused"},
		})
		answer := r.respond(context.Background(), nil, state)
		assert.Contains(t, answer, "could not be completed")
		assert.Contains(t, answer, "connection refused")
	})
}
