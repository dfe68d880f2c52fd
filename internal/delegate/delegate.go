// Package delegate runs nested sub-agent runs on behalf of a parent run.
// Preconditions are checked before any resource is opened, and every opened
// resource is released on all exit paths including timeout and panic.
package delegate

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"orchid/internal/engine/ports"
	"orchid/internal/events"
	"orchid/internal/logging"
)

// RunFunc starts one nested run to completion. Bound after the engine is
// constructed; the engine itself never imports this package.
type RunFunc func(ctx context.Context, req ports.StartRequest, listener events.Listener) (*ports.RunResult, error)

// Resource is anything opened for a nested run that must be released.
type Resource interface {
	Name() string
	Close() error
}

// ResourceOpener provisions the resources one nested run needs. The default
// opener creates a scratch workspace directory.
type ResourceOpener func(runStepID string) ([]Resource, error)

// Delegator implements ports.Delegator.
type Delegator struct {
	maxDepth int
	timeout  time.Duration

	mu  sync.RWMutex
	run RunFunc

	openResources ResourceOpener
	clock         ports.Clock
	logger        logging.Logger
}

// New builds a delegator. Bind must be called with the engine's run function
// before the first Delegate call.
func New(maxDepth int, timeout time.Duration, logger logging.Logger) *Delegator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Delegator{
		maxDepth:      maxDepth,
		timeout:       timeout,
		openResources: openWorkspace,
		clock:         ports.SystemClock{},
		logger:        logging.OrNop(logger),
	}
}

// Bind attaches the nested-run entry point. Separate from New because the
// engine and the delegator reference each other at wiring time.
func (d *Delegator) Bind(run RunFunc) {
	d.mu.Lock()
	d.run = run
	d.mu.Unlock()
}

// SetResourceOpener overrides resource provisioning (used by tests).
func (d *Delegator) SetResourceOpener(opener ResourceOpener) {
	d.openResources = opener
}

// Delegate runs one nested run. The returned result is only produced after
// every opened resource was released; ResourcesCleaned reports whether that
// release fully succeeded.
func (d *Delegator) Delegate(ctx context.Context, req ports.DelegationRequest,
	parent *ports.Snapshot, listener events.Listener) *ports.DelegationResult {

	listener = events.Multi(listener)
	start := d.clock.Now()

	fail := func(err error) *ports.DelegationResult {
		return &ports.DelegationResult{
			Error:            err.Error(),
			ResourcesCleaned: true, // nothing was opened
			Duration:         d.clock.Now().Sub(start),
		}
	}

	// Preconditions come before any resource acquisition so a refused
	// delegation has nothing to clean up.
	nestedDepth := req.Depth + 1
	if nestedDepth > d.maxDepth {
		return fail(fmt.Errorf("%w: depth %d exceeds limit %d",
			ports.ErrDepthExceeded, nestedDepth, d.maxDepth))
	}
	if _, ok := parent.Peer(req.TargetAgentID); !ok {
		return fail(fmt.Errorf("%w: %s", ports.ErrUnknownAgent, req.TargetAgentID))
	}
	d.mu.RLock()
	run := d.run
	d.mu.RUnlock()
	if run == nil {
		return fail(fmt.Errorf("delegator has no bound run function"))
	}

	listener.OnEvent(&events.DelegationStartedEvent{
		BaseEvent:     events.NewBaseEvent(req.RunID, req.Depth, d.clock.Now()),
		StepID:        req.StepID,
		TargetAgentID: req.TargetAgentID,
		Task:          req.Task,
		NestedDepth:   nestedDepth,
	})

	resources, err := d.openResources(req.StepID)
	if err != nil {
		result := fail(fmt.Errorf("provision delegation resources: %w", err))
		d.emitResult(req, result, listener)
		return result
	}

	result := &ports.DelegationResult{}
	func() {
		nestedCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		defer func() {
			// Cleanup is unconditional: timeout, cancellation, and a panicking
			// nested run all pass through here before the result is returned.
			if r := recover(); r != nil {
				result.Error = fmt.Sprintf("nested run panicked: %v", r)
				result.Success = false
			}
			result.ResourcesCleaned = d.release(resources)
		}()

		runResult, runErr := run(nestedCtx, ports.StartRequest{
			OrgID:   req.OrgID,
			AgentID: req.TargetAgentID,
			Message: req.Task,
			Depth:   nestedDepth,
		}, listener)

		switch {
		// The parent context expiring also trips nestedCtx; only a deadline
		// the delegation budget itself set is attributed to the delegation.
		case nestedCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			timeoutErr := &ports.TimeoutError{
				Unit:    "delegation",
				Elapsed: d.timeout.String(),
			}
			result.Error = timeoutErr.Error()
		case runErr != nil:
			result.Error = runErr.Error()
		case runResult.Failed:
			result.Error = runResult.Answer
			result.Reflection = runResult.Reflection
		default:
			result.Success = true
			result.Answer = runResult.Answer
			result.Reflection = runResult.Reflection
		}
	}()
	result.Duration = d.clock.Now().Sub(start)

	d.emitResult(req, result, listener)
	return result
}

func (d *Delegator) emitResult(req ports.DelegationRequest, result *ports.DelegationResult, listener events.Listener) {
	listener.OnEvent(&events.DelegationResultEvent{
		BaseEvent:     events.NewBaseEvent(req.RunID, req.Depth, d.clock.Now()),
		StepID:        req.StepID,
		TargetAgentID: req.TargetAgentID,
		Success:       result.Success,
		Answer:        result.Answer,
		Error:         result.Error,
		Duration:      result.Duration,
	})
}

// release closes every resource exactly once and reports whether all
// releases succeeded.
func (d *Delegator) release(resources []Resource) bool {
	clean := true
	for _, resource := range resources {
		if err := resource.Close(); err != nil {
			clean = false
			d.logger.Error("failed to release delegation resource %s: %v", resource.Name(), err)
		} else {
			d.logger.Debug("released delegation resource %s", resource.Name())
		}
	}
	return clean
}

// workspace is the scratch directory opened for each nested run.
type workspace struct {
	path string
	once sync.Once
	err  error
}

func (w *workspace) Name() string { return "workspace:" + w.path }

func (w *workspace) Close() error {
	w.once.Do(func() { w.err = os.RemoveAll(w.path) })
	return w.err
}

func openWorkspace(runStepID string) ([]Resource, error) {
	path, err := os.MkdirTemp("", "orchid-delegate-*")
	if err != nil {
		return nil, fmt.Errorf("create delegation workspace: %w", err)
	}
	return []Resource{&workspace{path: path}}, nil
}
