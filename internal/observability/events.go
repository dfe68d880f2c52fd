package observability

import (
	"orchid/internal/events"
)

// eventRecorder derives sandbox and delegation metrics from the run event
// stream, so the engine itself never has to know about those counters.
type eventRecorder struct {
	collector *Collector
	sandboxID string
}

// NewEventRecorder returns a listener that records delegation outcomes and,
// for steps targeting sandboxID, sandbox execution outcomes.
func NewEventRecorder(collector *Collector, sandboxID string) events.Listener {
	return &eventRecorder{collector: collector, sandboxID: sandboxID}
}

func (r *eventRecorder) OnEvent(event events.Event) {
	switch e := event.(type) {
	case *events.DelegationResultEvent:
		outcome := "ok"
		if !e.Success {
			outcome = "failed"
		}
		r.collector.RecordDelegation(outcome)
	case *events.StepResultEvent:
		if r.sandboxID == "" || e.CapabilityID != r.sandboxID {
			return
		}
		outcome := "ok"
		switch {
		case e.TimedOut:
			outcome = "timeout"
		case !e.Success:
			outcome = "failed"
		}
		r.collector.RecordSandbox(outcome)
	}
}
