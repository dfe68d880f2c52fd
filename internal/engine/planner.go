package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
	"orchid/internal/token"
)

// planner turns the conversation so far into a structured plan. A plan that
// fails to parse or references unknown capabilities earns exactly one
// corrective retry before the run fails.
type planner struct {
	llm           ports.LLMClient
	historyBudget int
	logger        logging.Logger
}

// planDTO is the JSON shape the model is asked to produce.
type planDTO struct {
	DirectAnswer string        `json:"direct_answer,omitempty"`
	Rationale    string        `json:"rationale,omitempty"`
	Steps        []planStepDTO `json:"steps,omitempty"`
}

type planStepDTO struct {
	ID             string         `json:"id,omitempty"`
	CapabilityID   string         `json:"capability_id"`
	Params         map[string]any `json:"params,omitempty"`
	ExecutionGroup int            `json:"execution_group"`
}

const plannerPromptTemplate = `You are the planning component of an agent run. Decide how to handle the user's request using only the capabilities listed below.

Output ONLY a valid JSON object, no markdown and no commentary, with this shape:
{"direct_answer":"...","rationale":"...","steps":[{"id":"s1","capability_id":"...","params":{},"execution_group":0}]}

Rules:
- If you can answer from what you already know, set "direct_answer" and omit "steps".
- Otherwise omit "direct_answer" and list the steps to execute.
- Every "capability_id" must be one of the listed capabilities, matched exactly.
- Steps sharing an "execution_group" run in parallel; groups run in ascending order. Put independent steps in the same group.
- For a sub_agent capability, "params" must contain a "task" string describing what to delegate.
- "params" must satisfy the capability's input schema.`

func newPlanner(llm ports.LLMClient, historyBudget int, logger logging.Logger) *planner {
	return &planner{llm: llm, historyBudget: historyBudget, logger: logging.OrNop(logger)}
}

// plan requests one plan for the current history. The returned plan is fully
// validated against the snapshot.
func (p *planner) plan(ctx context.Context, snapshot *ports.Snapshot, history []ports.Message) (*ports.Plan, error) {
	messages := token.TrimMessages(history, p.historyBudget)

	request := ports.CompletionRequest{
		SystemPrompt: plannerSystemPrompt(snapshot),
		Messages:     messages,
		Capabilities: snapshot.Descriptors,
		ResponseMode: ports.ResponseModePlan,
		Temperature:  0.2,
	}

	response, err := p.llm.Complete(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	plan, structural := p.buildPlan(response.Content, snapshot)
	if structural == nil {
		return plan, nil
	}

	// One corrective retry: feed the broken output and the reason back.
	p.logger.Warn("structurally invalid plan, retrying once: %v", structural)
	request.Messages = append(messages,
		ports.Message{Role: "assistant", Content: response.Content},
		ports.Message{Role: "user", Content: fmt.Sprintf(
			"That plan was invalid: %v. Produce a corrected JSON plan following the required shape exactly.", structural)},
	)
	response, err = p.llm.Complete(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("planner retry completion: %w", err)
	}
	plan, structural = p.buildPlan(response.Content, snapshot)
	if structural != nil {
		return nil, fmt.Errorf("planner produced an invalid plan twice: %w", structural)
	}
	return plan, nil
}

// buildPlan parses and validates one model output. The returned error is a
// structural planning error eligible for the single retry.
func (p *planner) buildPlan(content string, snapshot *ports.Snapshot) (*ports.Plan, error) {
	dto, err := parsePlanJSON(content)
	if err != nil {
		return nil, err
	}
	if dto.DirectAnswer == "" && len(dto.Steps) == 0 {
		return nil, fmt.Errorf("plan has neither a direct answer nor steps")
	}

	plan := &ports.Plan{
		ID:           uuid.NewString(),
		DirectAnswer: strings.TrimSpace(dto.DirectAnswer),
		Rationale:    strings.TrimSpace(dto.Rationale),
	}
	for i, step := range dto.Steps {
		descriptor, ok := snapshot.Descriptor(step.CapabilityID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ports.ErrUnknownCapability, step.CapabilityID)
		}
		id := strings.TrimSpace(step.ID)
		if id == "" {
			id = fmt.Sprintf("s%d", i+1)
		}
		if descriptor.Kind == ports.KindSubAgent {
			plan.RequiresDelegation = true
		}
		plan.Steps = append(plan.Steps, ports.PlanStep{
			ID:             id,
			CapabilityID:   step.CapabilityID,
			Params:         step.Params,
			ExecutionGroup: step.ExecutionGroup,
			Idempotent:     descriptor.Idempotent,
		})
	}
	return plan, nil
}

// parsePlanJSON decodes model output into the plan DTO, tolerating wrapper
// text and minor JSON damage.
func parsePlanJSON(content string) (*planDTO, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, fmt.Errorf("empty planner output")
	}

	var dto planDTO
	if err := json.Unmarshal([]byte(text), &dto); err == nil {
		return &dto, nil
	}

	// The model may wrap the object in prose or a code fence.
	if obj := extractJSONObject(text); obj != "" {
		if err := json.Unmarshal([]byte(obj), &dto); err == nil {
			return &dto, nil
		}
		// Last resort: repair truncated or mildly malformed JSON.
		if repaired, err := jsonrepair.JSONRepair(obj); err == nil {
			if err := json.Unmarshal([]byte(repaired), &dto); err == nil {
				return &dto, nil
			}
		}
	}
	return nil, fmt.Errorf("planner output is not a JSON plan")
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func plannerSystemPrompt(snapshot *ports.Snapshot) string {
	var sb strings.Builder
	if snapshot.Agent.SystemPrompt != "" {
		sb.WriteString(snapshot.Agent.SystemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(plannerPromptTemplate)
	return sb.String()
}
