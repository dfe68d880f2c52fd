package ports

import (
	"context"

	"orchid/internal/events"
)

// ActionExecutor runs the steps of one plan. All steps sharing an execution
// group are launched concurrently; groups run in ascending order, and group
// N+1 never starts before group N fully resolves. Partial results from a
// failed sibling do not cancel the others.
type ActionExecutor interface {
	ExecutePlan(ctx context.Context, runID string, depth int, plan *Plan,
		snapshot *Snapshot, listener events.Listener) []ActionResult
}

// Delegator constructs and runs an isolated nested run against a peer agent.
// Preconditions (depth, known target) are checked before any resource is
// opened; cleanup of every opened resource is unconditional on all exit
// paths including timeout and cancellation.
type Delegator interface {
	Delegate(ctx context.Context, req DelegationRequest, parent *Snapshot,
		listener events.Listener) *DelegationResult
}

// ReflectionStore persists run reflections for later semantic retrieval.
// Writes happen in a detached best-effort pass after the run returned.
type ReflectionStore interface {
	StoreReflection(ctx context.Context, runID, agentID, task, reflection string) error
	SearchReflections(ctx context.Context, query string, limit int) ([]string, error)
}
