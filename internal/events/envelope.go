package events

// Envelope flattens an event into the wire shape shared by every transport:
// a "type" discriminator, the common header fields, and the event's own
// payload fields.
func Envelope(event Event) map[string]any {
	env := map[string]any{
		"type":   event.EventType(),
		"run_id": event.GetRunID(),
		"depth":  event.GetDepth(),
		"at":     event.Timestamp(),
	}

	switch e := event.(type) {
	case *PlanReadyEvent:
		env["plan_id"] = e.PlanID
		env["iteration"] = e.Iteration
		env["direct_answer"] = e.DirectAnswer
		env["step_count"] = e.StepCount
		env["step_ids"] = e.StepIDs
	case *StepStartedEvent:
		env["plan_id"] = e.PlanID
		env["step_id"] = e.StepID
		env["capability_id"] = e.CapabilityID
		env["capability_kind"] = e.CapabilityKind
		env["execution_group"] = e.ExecutionGroup
	case *StepResultEvent:
		env["plan_id"] = e.PlanID
		env["step_id"] = e.StepID
		env["capability_id"] = e.CapabilityID
		env["success"] = e.Success
		env["critical"] = e.Critical
		env["timed_out"] = e.TimedOut
		env["output"] = e.Output
		env["error"] = e.Error
		env["duration_ms"] = e.Duration.Milliseconds()
	case *DelegationStartedEvent:
		env["step_id"] = e.StepID
		env["target_agent_id"] = e.TargetAgentID
		env["task"] = e.Task
		env["nested_depth"] = e.NestedDepth
	case *DelegationResultEvent:
		env["step_id"] = e.StepID
		env["target_agent_id"] = e.TargetAgentID
		env["success"] = e.Success
		env["answer"] = e.Answer
		env["error"] = e.Error
		env["duration_ms"] = e.Duration.Milliseconds()
	case *ReflectionEvent:
		env["iteration"] = e.Iteration
		env["decision"] = e.Decision
		env["reflection"] = e.Reflection
	case *FinalAnswerEvent:
		env["answer"] = e.Answer
		env["stop_reason"] = e.StopReason
		env["iterations"] = e.Iterations
		env["duration_ms"] = e.Duration.Milliseconds()
	case *RunErrorEvent:
		env["stage"] = e.Stage
		env["error"] = e.Error
	}
	return env
}
