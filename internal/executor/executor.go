// Package executor runs plan steps against a capability snapshot. Steps in
// the same execution group run concurrently; groups run strictly in
// ascending order. The executor only produces results, it never mutates run
// state.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"orchid/internal/engine/ports"
	"orchid/internal/events"
	"orchid/internal/logging"
)

// Executor implements ports.ActionExecutor.
type Executor struct {
	delegator   ports.Delegator
	stepTimeout time.Duration
	maxParallel int
	clock       ports.Clock
	logger      logging.Logger
}

// New builds an executor. delegator handles sub_agent steps; stepTimeout
// bounds each non-delegation step, maxParallel bounds concurrency inside a
// group.
func New(delegator ports.Delegator, stepTimeout time.Duration, maxParallel int, logger logging.Logger) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Executor{
		delegator:   delegator,
		stepTimeout: stepTimeout,
		maxParallel: maxParallel,
		clock:       ports.SystemClock{},
		logger:      logging.OrNop(logger),
	}
}

// ExecutePlan runs every step of the plan and returns one result per step in
// plan order. A failed sibling never cancels the rest of its group, and
// group N+1 starts only after group N fully resolved.
func (e *Executor) ExecutePlan(ctx context.Context, runID string, depth int, plan *ports.Plan,
	snapshot *ports.Snapshot, listener events.Listener) []ports.ActionResult {

	listener = events.Multi(listener)

	byStep := make(map[string]ports.ActionResult, len(plan.Steps))
	for _, group := range plan.Groups() {
		steps := plan.StepsInGroup(group)
		results := make([]ports.ActionResult, len(steps))

		var g errgroup.Group
		g.SetLimit(e.maxParallel)
		for i, step := range steps {
			g.Go(func() error {
				results[i] = e.executeStep(ctx, runID, depth, plan.ID, step, snapshot, listener)
				return nil
			})
		}
		_ = g.Wait()

		for _, result := range results {
			byStep[result.StepID] = result
		}
	}

	ordered := make([]ports.ActionResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		ordered = append(ordered, byStep[step.ID])
	}
	return ordered
}

func (e *Executor) executeStep(ctx context.Context, runID string, depth int, planID string,
	step ports.PlanStep, snapshot *ports.Snapshot, listener events.Listener) ports.ActionResult {

	descriptor, known := snapshot.Descriptor(step.CapabilityID)

	listener.OnEvent(&events.StepStartedEvent{
		BaseEvent:      events.NewBaseEvent(runID, depth, e.clock.Now()),
		PlanID:         planID,
		StepID:         step.ID,
		CapabilityID:   step.CapabilityID,
		CapabilityKind: string(descriptor.Kind),
		ExecutionGroup: step.ExecutionGroup,
	})

	start := e.clock.Now()
	result := ports.ActionResult{StepID: step.ID, CapabilityID: step.CapabilityID}

	switch {
	case !known:
		// The planner validates capability ids, so an unknown id here means
		// the snapshot and plan diverged. That is an engine fault, not a
		// semantic failure.
		result.Error = fmt.Sprintf("%v: %s", ports.ErrUnknownCapability, step.CapabilityID)
		result.Critical = true

	case descriptor.Kind == ports.KindSubAgent:
		result = e.executeDelegation(ctx, runID, depth, step, snapshot, listener)

	default:
		if err := descriptor.InputSchema.Validate(step.Params); err != nil {
			// Schema mismatches are the planner's mistake, recoverable by a
			// different plan. Non-critical.
			result.Error = fmt.Sprintf("invalid parameters: %v", err)
		} else {
			stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
			output, err := e.dispatch(stepCtx, descriptor, step, snapshot)
			cancel()
			result = e.classify(step, output, err)
		}
	}

	result.Duration = e.clock.Now().Sub(start)

	listener.OnEvent(&events.StepResultEvent{
		BaseEvent:    events.NewBaseEvent(runID, depth, e.clock.Now()),
		PlanID:       planID,
		StepID:       step.ID,
		CapabilityID: step.CapabilityID,
		Success:      result.Success,
		Critical:     result.Critical,
		TimedOut:     result.TimedOut,
		Output:       result.Output,
		Error:        result.Error,
		Duration:     result.Duration,
	})
	return result
}

// dispatch routes a tool or skill step to its handler.
func (e *Executor) dispatch(ctx context.Context, descriptor ports.CapabilityDescriptor,
	step ports.PlanStep, snapshot *ports.Snapshot) (*ports.ToolOutput, error) {

	switch descriptor.Kind {
	case ports.KindTool:
		tool, ok := snapshot.Tool(step.CapabilityID)
		if !ok {
			return nil, ports.NewInfrastructureError(
				fmt.Errorf("tool %s in snapshot descriptors but not dispatch table", step.CapabilityID))
		}
		return e.runTool(ctx, tool, step.Params)

	case ports.KindSkill:
		skill, ok := snapshot.Skill(step.CapabilityID)
		if !ok {
			return nil, ports.NewInfrastructureError(
				fmt.Errorf("skill %s in snapshot descriptors but not dispatch table", step.CapabilityID))
		}
		return e.runSkill(ctx, skill, step.Params, snapshot)

	default:
		return nil, ports.NewInfrastructureError(
			fmt.Errorf("unhandled capability kind %q", descriptor.Kind))
	}
}

// runTool invokes a tool with panic recovery: a panicking handler becomes an
// infrastructure failure of its own step, never of the whole run.
func (e *Executor) runTool(ctx context.Context, tool ports.Tool, args map[string]any) (output *ports.ToolOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool %s panicked: %v", tool.Descriptor().ID, r)
			output = nil
			err = ports.NewInfrastructureError(fmt.Errorf("tool panicked: %v", r))
		}
	}()
	return tool.Execute(ctx, args)
}

// runSkill expands a skill procedure into its tool sequence. Steps run in
// order; the first failure aborts the remainder of the procedure.
func (e *Executor) runSkill(ctx context.Context, skill ports.SkillProcedure,
	params map[string]any, snapshot *ports.Snapshot) (*ports.ToolOutput, error) {

	var sections []string
	for i, skillStep := range skill.Steps {
		tool, ok := snapshot.Tool(skillStep.ToolID)
		if !ok {
			return nil, ports.NewInfrastructureError(
				fmt.Errorf("skill %s step %d: tool %s not in snapshot", skill.ID, i+1, skillStep.ToolID))
		}

		args := mergeArgs(skillStep.Args, params)
		output, err := e.runTool(ctx, tool, args)
		if err != nil {
			return nil, fmt.Errorf("skill %s step %d (%s): %w", skill.ID, i+1, skillStep.ToolID, err)
		}
		if output != nil && output.Content != "" {
			sections = append(sections, fmt.Sprintf("[%s] %s", skillStep.ToolID, output.Content))
		}
	}
	return &ports.ToolOutput{
		Content:  strings.Join(sections, "\n"),
		Metadata: map[string]any{"skill": skill.ID, "steps": len(skill.Steps)},
	}, nil
}

// executeDelegation maps a sub_agent step onto the delegator.
func (e *Executor) executeDelegation(ctx context.Context, runID string, depth int,
	step ports.PlanStep, snapshot *ports.Snapshot, listener events.Listener) ports.ActionResult {

	result := ports.ActionResult{StepID: step.ID, CapabilityID: step.CapabilityID}

	if e.delegator == nil {
		result.Error = "delegation is not enabled"
		result.Critical = true
		return result
	}

	task, _ := step.Params["task"].(string)
	if strings.TrimSpace(task) == "" {
		result.Error = "delegation step requires a non-empty task parameter"
		return result
	}

	delegation := e.delegator.Delegate(ctx, ports.DelegationRequest{
		RunID:         runID,
		StepID:        step.ID,
		TargetAgentID: step.CapabilityID,
		Task:          task,
		Depth:         depth,
		OrgID:         snapshot.Agent.OrgID,
	}, snapshot, listener)

	result.Success = delegation.Success
	result.Output = delegation.Answer
	result.Error = delegation.Error
	result.Metadata = map[string]any{
		"resources_cleaned": delegation.ResourcesCleaned,
	}
	if delegation.Reflection != "" {
		result.Metadata["reflection"] = delegation.Reflection
	}
	if !delegation.Success {
		switch {
		case strings.Contains(delegation.Error, "timed out"):
			result.TimedOut = true
			result.Critical = true
		case strings.Contains(delegation.Error, ports.ErrDepthExceeded.Error()),
			strings.Contains(delegation.Error, ports.ErrUnknownAgent.Error()):
			// Structural planning mistakes: a different plan can avoid them.
			result.Critical = true
		}
	}
	return result
}

// classify folds a tool/skill outcome into an ActionResult.
func (e *Executor) classify(step ports.PlanStep, output *ports.ToolOutput, err error) ports.ActionResult {
	result := ports.ActionResult{StepID: step.ID, CapabilityID: step.CapabilityID}
	if output != nil {
		result.Output = output.Content
		result.Metadata = output.Metadata
	}
	if err == nil {
		result.Success = true
		return result
	}

	result.Error = err.Error()
	switch {
	case ports.IsTimeout(err) || stderrors.Is(err, context.DeadlineExceeded):
		result.TimedOut = true
		result.Critical = true
	case ports.IsInfrastructure(err):
		result.Critical = true
	}
	return result
}

func mergeArgs(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
