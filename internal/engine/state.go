package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"orchid/internal/engine/ports"
)

// runState is the append-only record of one run. Only the run's own
// goroutine writes to it; concurrent step execution hands results back
// through the executor's return value, never through shared state.
type runState struct {
	runID   string
	orgID   string
	agentID string
	depth   int
	task    string

	history []ports.Message
	plans   []*ports.Plan
	results []ports.ActionResult

	// succeeded maps a step signature (capability + params) to its result,
	// feeding the non-idempotent re-execution guard across replans.
	succeeded map[string]ports.ActionResult

	iterations int
	replans    int
	startedAt  time.Time
}

func newRunState(runID string, req ports.StartRequest, systemPrompt string, startedAt time.Time) *runState {
	state := &runState{
		runID:     runID,
		orgID:     req.OrgID,
		agentID:   req.AgentID,
		depth:     req.Depth,
		task:      req.Message,
		succeeded: make(map[string]ports.ActionResult),
		startedAt: startedAt,
	}
	if systemPrompt != "" {
		state.history = append(state.history, ports.Message{Role: "system", Content: systemPrompt})
	}
	state.history = append(state.history, ports.Message{Role: "user", Content: req.Message})
	return state
}

// appendPlan records a plan and its observation turn in the history.
func (s *runState) appendPlan(plan *ports.Plan) {
	s.plans = append(s.plans, plan)
}

// appendResults records executed step results and the matching observation
// message for the next planning turn.
func (s *runState) appendResults(plan *ports.Plan, results []ports.ActionResult) {
	s.results = append(s.results, results...)

	stepsByID := make(map[string]ports.PlanStep, len(plan.Steps))
	for _, step := range plan.Steps {
		stepsByID[step.ID] = step
	}
	for _, result := range results {
		if result.Success {
			if step, ok := stepsByID[result.StepID]; ok {
				s.succeeded[stepSignature(step)] = result
			}
		}
	}

	s.history = append(s.history, ports.Message{
		Role:    "tool",
		Content: renderObservation(results),
	})
}

// appendGuidance adds replan guidance as a user turn.
func (s *runState) appendGuidance(text string) {
	s.history = append(s.history, ports.Message{Role: "user", Content: text})
}

// priorSuccess returns the earlier result for an identical step, if any.
func (s *runState) priorSuccess(step ports.PlanStep) (ports.ActionResult, bool) {
	result, ok := s.succeeded[stepSignature(step)]
	return result, ok
}

// usableResults returns every successful result across all iterations.
func (s *runState) usableResults() []ports.ActionResult {
	var usable []ports.ActionResult
	for _, result := range s.results {
		if result.Success {
			usable = append(usable, result)
		}
	}
	return usable
}

// stepSignature canonically identifies a step by capability and parameters,
// independent of step id and group.
func stepSignature(step ports.PlanStep) string {
	if len(step.Params) == 0 {
		return step.CapabilityID
	}
	keys := make([]string, 0, len(step.Params))
	for key := range step.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(step.CapabilityID)
	for _, key := range keys {
		value, err := json.Marshal(step.Params[key])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", step.Params[key]))
		}
		fmt.Fprintf(&sb, "|%s=%s", key, value)
	}
	return sb.String()
}

const observationOutputLimit = 2000

// renderObservation serializes step results into the conversation turn the
// planner sees next iteration.
func renderObservation(results []ports.ActionResult) string {
	var sb strings.Builder
	sb.WriteString("Step results:\n")
	for _, result := range results {
		status := "ok"
		switch {
		case result.TimedOut:
			status = "timed_out"
		case !result.Success:
			status = "failed"
		case result.Cached:
			status = "ok (reused earlier result)"
		}
		fmt.Fprintf(&sb, "- %s (%s): %s", result.StepID, result.CapabilityID, status)
		if result.Error != "" {
			fmt.Fprintf(&sb, " error=%s", result.Error)
		}
		if result.Output != "" {
			output := result.Output
			if len(output) > observationOutputLimit {
				output = output[:observationOutputLimit] + "...(truncated)"
			}
			fmt.Fprintf(&sb, "\n  output: %s", output)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
