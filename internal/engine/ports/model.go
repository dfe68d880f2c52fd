// Package ports defines the contracts between the orchestration engine and
// its collaborators: the data model shared across components plus the
// interfaces the engine consumes. Implementations live in sibling packages
// and are injected at construction, never reached through globals.
package ports

import (
	"time"
)

// Message is one entry in a run's conversation history.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
}

// PlanStep is one unit of work produced by the planner. Steps are immutable
// after creation; a replan produces an entirely new plan.
type PlanStep struct {
	ID             string         `json:"id"`
	CapabilityID   string         `json:"capability_id"`
	Params         map[string]any `json:"params,omitempty"`
	ExecutionGroup int            `json:"execution_group"`
	// Idempotent mirrors the target capability's declaration; non-idempotent
	// steps that already succeeded are never blindly re-executed on replan.
	Idempotent bool `json:"idempotent"`
}

// Plan is the planner's output: either a direct answer or ordered steps.
type Plan struct {
	ID                 string     `json:"id"`
	DirectAnswer       string     `json:"direct_answer,omitempty"`
	Steps              []PlanStep `json:"steps,omitempty"`
	RequiresDelegation bool       `json:"requires_delegation"`
	Rationale          string     `json:"rationale,omitempty"`
}

// IsDirect reports whether the plan answers without executing steps.
func (p *Plan) IsDirect() bool {
	return p != nil && len(p.Steps) == 0 && p.DirectAnswer != ""
}

// Groups returns the distinct execution group numbers in ascending order.
func (p *Plan) Groups() []int {
	if p == nil {
		return nil
	}
	seen := map[int]bool{}
	var groups []int
	for _, step := range p.Steps {
		if !seen[step.ExecutionGroup] {
			seen[step.ExecutionGroup] = true
			groups = append(groups, step.ExecutionGroup)
		}
	}
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j] < groups[j-1]; j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
	return groups
}

// StepsInGroup returns the plan steps belonging to one execution group.
func (p *Plan) StepsInGroup(group int) []PlanStep {
	var steps []PlanStep
	for _, step := range p.Steps {
		if step.ExecutionGroup == group {
			steps = append(steps, step)
		}
	}
	return steps
}

// ActionResult is the immutable outcome of one plan step.
type ActionResult struct {
	StepID       string `json:"step_id"`
	CapabilityID string `json:"capability_id"`
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	// Critical marks an infrastructure-level failure (capability unreachable,
	// policy violation, panic) that is eligible to trigger a replan. Semantic
	// failures (bad arguments, empty result) are non-critical.
	Critical bool           `json:"critical"`
	TimedOut bool           `json:"timed_out"`
	Cached   bool           `json:"cached,omitempty"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DelegationRequest asks for a nested run against a peer agent.
type DelegationRequest struct {
	RunID         string `json:"run_id"` // requesting run
	StepID        string `json:"step_id"`
	TargetAgentID string `json:"target_agent_id"`
	Task          string `json:"task"`
	// Depth is the requesting run's delegation depth; the nested run executes
	// at Depth+1.
	Depth int    `json:"depth"`
	OrgID string `json:"org_id"`
}

// DelegationResult is the outcome of a nested run. It is only valid once
// every resource opened for the nested run has been confirmed released.
type DelegationResult struct {
	Success          bool          `json:"success"`
	Answer           string        `json:"answer,omitempty"`
	Error            string        `json:"error,omitempty"`
	Reflection       string        `json:"reflection,omitempty"`
	ResourcesCleaned bool          `json:"resources_cleaned"`
	Duration         time.Duration `json:"duration"`
}

// StartRequest is the run invocation surface input.
type StartRequest struct {
	OrgID   string `json:"org_id"`
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
	// Depth is the delegation depth this run executes at: 0 for top-level
	// runs, parent depth + 1 for delegated runs.
	Depth int `json:"depth"`
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Answer     string        `json:"answer"`
	StopReason string        `json:"stop_reason"`
	Iterations int           `json:"iterations"`
	Reflection string        `json:"reflection,omitempty"`
	Failed     bool          `json:"failed"`
	Duration   time.Duration `json:"duration"`
}
