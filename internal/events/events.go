// Package events defines the typed progress events emitted while a run
// executes. Transports (SSE, websocket, CLI printer) subscribe through the
// Listener interface; the engine never knows where events end up.
package events

import (
	"time"
)

// Event is implemented by every progress event.
type Event interface {
	EventType() string
	GetRunID() string
	GetDepth() int
	Timestamp() time.Time
}

// Listener receives progress events in emission order.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	runID string
	depth int
	at    time.Time
}

// NewBaseEvent builds the shared event header.
func NewBaseEvent(runID string, depth int, at time.Time) BaseEvent {
	return BaseEvent{runID: runID, depth: depth, at: at}
}

func (e *BaseEvent) GetRunID() string     { return e.runID }
func (e *BaseEvent) GetDepth() int        { return e.depth }
func (e *BaseEvent) Timestamp() time.Time { return e.at }

// PlanReadyEvent - emitted when the planner produced a plan (or direct answer).
type PlanReadyEvent struct {
	BaseEvent
	PlanID       string
	Iteration    int
	DirectAnswer bool
	StepCount    int
	StepIDs      []string
}

func (e *PlanReadyEvent) EventType() string { return "plan_ready" }

// StepStartedEvent - emitted when one plan step begins executing.
type StepStartedEvent struct {
	BaseEvent
	PlanID         string
	StepID         string
	CapabilityID   string
	CapabilityKind string
	ExecutionGroup int
}

func (e *StepStartedEvent) EventType() string { return "step_started" }

// StepResultEvent - emitted when one plan step resolves.
type StepResultEvent struct {
	BaseEvent
	PlanID       string
	StepID       string
	CapabilityID string
	Success      bool
	Critical     bool
	TimedOut     bool
	Output       string
	Error        string
	Duration     time.Duration
}

func (e *StepResultEvent) EventType() string { return "step_result" }

// DelegationStartedEvent - emitted when a nested run is about to start.
type DelegationStartedEvent struct {
	BaseEvent
	StepID        string
	TargetAgentID string
	Task          string
	NestedDepth   int
}

func (e *DelegationStartedEvent) EventType() string { return "delegation_started" }

// DelegationResultEvent - emitted when a nested run resolves.
type DelegationResultEvent struct {
	BaseEvent
	StepID        string
	TargetAgentID string
	Success       bool
	Answer        string
	Error         string
	Duration      time.Duration
}

func (e *DelegationResultEvent) EventType() string { return "delegation_result" }

// ReflectionEvent - emitted after the observer inspected a cycle's results.
type ReflectionEvent struct {
	BaseEvent
	Iteration  int
	Decision   string // "replan", "respond", "respond_error"
	Reflection string
}

func (e *ReflectionEvent) EventType() string { return "reflection" }

// FinalAnswerEvent - emitted exactly once when the run terminates with output.
type FinalAnswerEvent struct {
	BaseEvent
	Answer     string
	StopReason string
	Iterations int
	Duration   time.Duration
}

func (e *FinalAnswerEvent) EventType() string { return "final_answer" }

// RunErrorEvent - emitted when a run fails at the engine level.
type RunErrorEvent struct {
	BaseEvent
	Stage string
	Error string
}

func (e *RunErrorEvent) EventType() string { return "error" }

type multiListener struct {
	listeners []Listener
}

// Multi fans events out to every non-nil listener in order.
func Multi(listeners ...Listener) Listener {
	flattened := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if l == nil {
			continue
		}
		if ml, ok := l.(*multiListener); ok {
			flattened = append(flattened, ml.listeners...)
			continue
		}
		flattened = append(flattened, l)
	}
	switch len(flattened) {
	case 0:
		return ListenerFunc(func(Event) {})
	case 1:
		return flattened[0]
	}
	return &multiListener{listeners: flattened}
}

func (m *multiListener) OnEvent(event Event) {
	for _, l := range m.listeners {
		l.OnEvent(event)
	}
}
