// Package engine implements the bounded run state machine: plan, act,
// observe, respond. A run always terminates with an answer, within hard
// iteration and replan ceilings.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"orchid/internal/engine/ports"
	"orchid/internal/events"
	"orchid/internal/logging"
	"orchid/internal/observability"
	"orchid/internal/runlog"
)

// Stop reasons reported on RunResult.
const (
	StopDirectAnswer     = "direct_answer"
	StopCompleted        = "completed"
	StopExhausted        = "exhausted"
	StopIterationCeiling = "iteration_ceiling"
	StopRunTimeout       = "run_timeout"
	StopPlannerFailed    = "planner_failed"
	StopCancelled        = "cancelled"
)

// Options bounds every run the service starts.
type Options struct {
	MaxReplans       int
	MaxIterations    int
	MaxHistoryTokens int
	// RunTimeout is the whole-run wall clock limit. Zero disables it; the
	// iteration ceiling still bounds the run.
	RunTimeout time.Duration
}

// Dependencies are the service's injected collaborators.
type Dependencies struct {
	Directory ports.Directory
	Executor  ports.ActionExecutor
	LLM       ports.LLMClient
	RunLog    ports.RunLog
	Memory    ports.ReflectionStore
	Metrics   *observability.Collector
	Tracer    *observability.TracerProvider
	Clock     ports.Clock
	Logger    logging.Logger
	// Listener receives events from every run, in addition to any per-run
	// listener passed at start.
	Listener events.Listener
}

// Service starts and drives runs.
type Service struct {
	opts      Options
	deps      Dependencies
	planner   *planner
	responder *responder
	logger    logging.Logger
}

// NewService validates options and wires the run pipeline.
func NewService(opts Options, deps Dependencies) *Service {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}
	if opts.MaxReplans < 0 || opts.MaxReplans >= opts.MaxIterations {
		opts.MaxReplans = 3
		if opts.MaxReplans >= opts.MaxIterations {
			opts.MaxReplans = opts.MaxIterations - 1
		}
	}
	if opts.MaxHistoryTokens <= 0 {
		opts.MaxHistoryTokens = 24000
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.RunLog == nil {
		deps.RunLog = runlog.Nop()
	}
	logger := logging.OrNop(deps.Logger)

	return &Service{
		opts:      opts,
		deps:      deps,
		planner:   newPlanner(deps.LLM, opts.MaxHistoryTokens, logger),
		responder: newResponder(deps.LLM, opts.MaxHistoryTokens, logger),
		logger:    logger,
	}
}

// RunHandle controls one started run.
type RunHandle struct {
	RunID string

	cancel context.CancelFunc
	done   chan struct{}
	result *ports.RunResult
}

// Await blocks until the run terminates or ctx expires. The run keeps
// executing if Await's context expires; only Cancel stops it.
func (h *RunHandle) Await(ctx context.Context) (*ports.RunResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the run. The run still terminates with an answer recording
// the cancellation; Await observes that result.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Done is closed when the run has terminated. After Done, Result is valid.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the run's outcome, or nil while the run is still executing.
func (h *RunHandle) Result() *ports.RunResult {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// StartRun validates the request, resolves the agent's capability snapshot,
// and starts the run in the background. Validation failures are returned
// synchronously; everything after that surfaces on the handle's result.
func (s *Service) StartRun(ctx context.Context, req ports.StartRequest, listener events.Listener) (*RunHandle, error) {
	snapshot, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// The run's lifetime belongs to the handle, not to the caller's request
	// context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &RunHandle{
		RunID:  uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(handle.done)
		defer cancel()
		handle.result = s.execute(runCtx, handle.RunID, req, snapshot, listener)
	}()
	return handle, nil
}

// Run executes one run synchronously on the caller's context. This is the
// entry point nested delegation uses.
func (s *Service) Run(ctx context.Context, req ports.StartRequest, listener events.Listener) (*ports.RunResult, error) {
	snapshot, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, uuid.NewString(), req, snapshot, listener), nil
}

func (s *Service) prepare(ctx context.Context, req ports.StartRequest) (*ports.Snapshot, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("start request requires an agent id")
	}
	if req.Message == "" {
		return nil, fmt.Errorf("start request requires a message")
	}
	if req.Depth < 0 {
		return nil, fmt.Errorf("start request depth must not be negative")
	}
	snapshot, err := s.deps.Directory.SnapshotFor(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// execute drives one run through the state machine until it terminates.
func (s *Service) execute(ctx context.Context, runID string, req ports.StartRequest,
	snapshot *ports.Snapshot, listener events.Listener) *ports.RunResult {

	listener = events.Multi(s.deps.Listener, listener)
	state := newRunState(runID, req, snapshot.Agent.SystemPrompt, s.deps.Clock.Now())

	if s.opts.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancelTimeout()
	}

	ctx, span := s.deps.Tracer.StartSpan(ctx, observability.SpanRun,
		observability.RunAttrs(runID, req.AgentID, req.OrgID, req.Depth)...)
	defer span.End()

	s.logStage(ctx, state, "start", "start", state.task)
	s.logger.Info("run %s started: agent=%s depth=%d", runID, req.AgentID, req.Depth)

	answer, stopReason, reflection, failed := s.loop(ctx, state, snapshot, listener)

	duration := s.deps.Clock.Now().Sub(state.startedAt)
	result := &ports.RunResult{
		RunID:      runID,
		Answer:     answer,
		StopReason: stopReason,
		Iterations: state.iterations,
		Reflection: reflection,
		Failed:     failed,
		Duration:   duration,
	}

	listener.OnEvent(&events.FinalAnswerEvent{
		BaseEvent:  events.NewBaseEvent(runID, req.Depth, s.deps.Clock.Now()),
		Answer:     answer,
		StopReason: stopReason,
		Iterations: state.iterations,
		Duration:   duration,
	})
	s.logStage(ctx, state, "respond", "end", stopReason)
	span.SetAttributes(attribute.String(observability.AttrStopReason, stopReason))

	outcome := StopCompleted
	if failed {
		outcome = "failed"
	}
	s.deps.Metrics.RecordRun(outcome, duration)
	s.logger.Info("run %s finished: stop=%s iterations=%d failed=%v took=%v",
		runID, stopReason, state.iterations, failed, duration.Round(time.Millisecond))

	s.learn(state, result)
	return result
}

// loop is the plan/act/observe cycle. It returns the final answer, stop
// reason, last reflection, and the failure flag.
func (s *Service) loop(ctx context.Context, state *runState, snapshot *ports.Snapshot,
	listener events.Listener) (string, string, string, bool) {

	for {
		if ctx.Err() != nil {
			return s.stopForContext(ctx, state, "planning")
		}
		if state.iterations >= s.opts.MaxIterations {
			reflection := fmt.Sprintf("stopped: %v (%d iterations)", ports.ErrIterationCeiling, state.iterations)
			return s.responder.respondError(state, ports.ErrIterationCeiling.Error()),
				StopIterationCeiling, reflection, true
		}
		state.iterations++

		plan, err := s.planOnce(ctx, state, snapshot, listener)
		if err != nil {
			if ctx.Err() != nil {
				return s.stopForContext(ctx, state, "planning")
			}
			listener.OnEvent(&events.RunErrorEvent{
				BaseEvent: events.NewBaseEvent(state.runID, state.depth, s.deps.Clock.Now()),
				Stage:     "plan",
				Error:     err.Error(),
			})
			return s.responder.respondError(state, fmt.Sprintf("planning failed: %v", err)),
				StopPlannerFailed, err.Error(), true
		}

		if plan.IsDirect() {
			return plan.DirectAnswer, StopDirectAnswer, plan.Rationale, false
		}

		results := s.actOnce(ctx, state, snapshot, plan, listener)
		state.appendResults(plan, results)

		if ctx.Err() != nil {
			return s.stopForContext(ctx, state, "execution")
		}

		obs := s.observeOnce(ctx, state, results, listener)
		switch obs.decision {
		case decisionReplan:
			state.replans++
			state.appendGuidance(fmt.Sprintf(
				"The previous plan produced no usable results: %s. Produce a different plan that avoids those failures.",
				obs.reflection))

		case decisionRespond:
			return s.respondOnce(ctx, state, snapshot), StopCompleted, obs.reflection, false

		default:
			return s.responder.respondError(state, obs.reflection), StopExhausted, obs.reflection, true
		}
	}
}

// stopForContext terminates the run after its context ended, distinguishing
// the whole-run timeout from an explicit cancellation.
func (s *Service) stopForContext(ctx context.Context, state *runState, stage string) (string, string, string, bool) {
	if ctx.Err() == context.DeadlineExceeded {
		timeout := &ports.TimeoutError{Unit: "run", Elapsed: s.opts.RunTimeout.String()}
		return s.responder.respondError(state, timeout.Error()),
			StopRunTimeout, fmt.Sprintf("run timed out during %s", stage), true
	}
	return s.responder.respondError(state, "the run was cancelled"),
		StopCancelled, fmt.Sprintf("run cancelled during %s", stage), true
}

func (s *Service) planOnce(ctx context.Context, state *runState, snapshot *ports.Snapshot,
	listener events.Listener) (*ports.Plan, error) {

	planCtx, span := s.deps.Tracer.StartSpan(ctx, observability.SpanPlan,
		attribute.Int(observability.AttrIteration, state.iterations))
	defer span.End()

	s.logStage(planCtx, state, "plan", "start", "")
	plan, err := s.planner.plan(planCtx, snapshot, state.history)
	if err != nil {
		s.logStage(planCtx, state, "plan", "error", err.Error())
		return nil, err
	}
	state.appendPlan(plan)

	stepIDs := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		stepIDs = append(stepIDs, step.ID)
	}
	listener.OnEvent(&events.PlanReadyEvent{
		BaseEvent:    events.NewBaseEvent(state.runID, state.depth, s.deps.Clock.Now()),
		PlanID:       plan.ID,
		Iteration:    state.iterations,
		DirectAnswer: plan.IsDirect(),
		StepCount:    len(plan.Steps),
		StepIDs:      stepIDs,
	})
	s.logStage(planCtx, state, "plan", "end", fmt.Sprintf("steps=%d direct=%v", len(plan.Steps), plan.IsDirect()))
	return plan, nil
}

// actOnce executes a plan, reusing earlier results for non-idempotent steps
// that already succeeded with identical parameters.
func (s *Service) actOnce(ctx context.Context, state *runState, snapshot *ports.Snapshot,
	plan *ports.Plan, listener events.Listener) []ports.ActionResult {

	actCtx, span := s.deps.Tracer.StartSpan(ctx, observability.SpanExecute,
		attribute.Int(observability.AttrIteration, state.iterations))
	defer span.End()

	s.logStage(actCtx, state, "act", "start", fmt.Sprintf("plan=%s", plan.ID))

	execPlan, cached := s.reusePriorResults(state, plan)

	var executed []ports.ActionResult
	if len(execPlan.Steps) > 0 {
		executed = s.deps.Executor.ExecutePlan(actCtx, state.runID, state.depth, execPlan, snapshot, listener)
	}

	byStep := make(map[string]ports.ActionResult, len(plan.Steps))
	for _, result := range cached {
		byStep[result.StepID] = result
	}
	for _, result := range executed {
		byStep[result.StepID] = result
	}

	merged := make([]ports.ActionResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		result := byStep[step.ID]
		merged = append(merged, result)
		s.recordStep(snapshot, step, result)
	}
	s.logStage(actCtx, state, "act", "end", fmt.Sprintf("results=%d cached=%d", len(merged), len(cached)))
	return merged
}

func (s *Service) observeOnce(ctx context.Context, state *runState,
	results []ports.ActionResult, listener events.Listener) observation {

	obsCtx, span := s.deps.Tracer.StartSpan(ctx, observability.SpanObserve,
		attribute.Int(observability.AttrIteration, state.iterations))
	defer span.End()

	obs := observe(results, state, s.opts.MaxReplans)
	listener.OnEvent(&events.ReflectionEvent{
		BaseEvent:  events.NewBaseEvent(state.runID, state.depth, s.deps.Clock.Now()),
		Iteration:  state.iterations,
		Decision:   obs.decision,
		Reflection: obs.reflection,
	})
	s.logStage(obsCtx, state, "observe", "end", obs.decision)
	return obs
}

func (s *Service) respondOnce(ctx context.Context, state *runState, snapshot *ports.Snapshot) string {
	respondCtx, span := s.deps.Tracer.StartSpan(ctx, observability.SpanRespond)
	defer span.End()

	s.logStage(respondCtx, state, "respond", "start", "")
	return s.responder.respond(respondCtx, snapshot, state)
}

// reusePriorResults splits a plan into steps that must execute and cached
// results for non-idempotent steps that already succeeded unchanged.
func (s *Service) reusePriorResults(state *runState, plan *ports.Plan) (*ports.Plan, []ports.ActionResult) {
	execPlan := &ports.Plan{ID: plan.ID, Rationale: plan.Rationale, RequiresDelegation: plan.RequiresDelegation}
	var cached []ports.ActionResult

	for _, step := range plan.Steps {
		if !step.Idempotent {
			if prior, ok := state.priorSuccess(step); ok {
				reused := prior
				reused.StepID = step.ID
				reused.Cached = true
				reused.Duration = 0
				cached = append(cached, reused)
				s.logger.Debug("run %s: reusing prior result for non-idempotent step %s (%s)",
					state.runID, step.ID, step.CapabilityID)
				continue
			}
		}
		execPlan.Steps = append(execPlan.Steps, step)
	}
	return execPlan, cached
}

func (s *Service) recordStep(snapshot *ports.Snapshot, step ports.PlanStep, result ports.ActionResult) {
	kind := "tool"
	if descriptor, ok := snapshot.Descriptor(step.CapabilityID); ok {
		kind = string(descriptor.Kind)
	}
	outcome := "ok"
	switch {
	case result.TimedOut:
		outcome = "timeout"
	case !result.Success:
		outcome = "failed"
	case result.Cached:
		outcome = "cached"
	}
	s.deps.Metrics.RecordStep(kind, outcome, result.Duration)
}

// learn stores the run's reflection in memory, detached from the run: the
// result has already been returned and a slow or failing store never blocks
// or fails a run.
func (s *Service) learn(state *runState, result *ports.RunResult) {
	if s.deps.Memory == nil || result.Reflection == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("reflection store panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Memory.StoreReflection(ctx, state.runID, state.agentID, state.task, result.Reflection); err != nil {
			s.logger.Warn("failed to store reflection for run %s: %v", state.runID, err)
		}
	}()
}

func (s *Service) logStage(ctx context.Context, state *runState, stage, event, detail string) {
	if len(detail) > 500 {
		detail = detail[:500] + "..."
	}
	// Audit entries still land when the run context was cancelled.
	err := s.deps.RunLog.Append(context.WithoutCancel(ctx), ports.RunLogEntry{
		RunID:   state.runID,
		OrgID:   state.orgID,
		AgentID: state.agentID,
		Depth:   state.depth,
		Stage:   stage,
		Event:   event,
		Detail:  detail,
		At:      s.deps.Clock.Now(),
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("run log append failed (run=%s stage=%s): %v", state.runID, stage, err)
	}
}
