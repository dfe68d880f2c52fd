package ports

import (
	"errors"
	"fmt"
)

// Structural planning errors. These are eligible for exactly one replan
// attempt before the run fails with a descriptive error.
var (
	// ErrUnknownCapability - the planner referenced a capability id that is
	// not in the run's snapshot.
	ErrUnknownCapability = errors.New("unknown capability reference")

	// ErrUnknownAgent - delegation targeted a peer that is not in the
	// snapshot's sub-agent list.
	ErrUnknownAgent = errors.New("unknown delegation target")

	// ErrDepthExceeded - delegation would exceed the configured max depth.
	ErrDepthExceeded = errors.New("delegation depth exceeded")
)

// ErrIterationCeiling - the hard iteration ceiling was reached before a
// terminal state; the run answers with an explicit error instead of looping.
var ErrIterationCeiling = errors.New("iteration ceiling reached")

// TimeoutError is the typed error surfaced when a bounded unit of work
// (sandbox execution, delegation, whole run) hits its deadline. Timeouts
// always terminate the offending unit and release its resources; they are
// never silently swallowed.
type TimeoutError struct {
	Unit    string // "sandbox", "delegation", "run", "step"
	Elapsed string
}

func (e *TimeoutError) Error() string {
	if e.Elapsed != "" {
		return fmt.Sprintf("%s timed out after %s", e.Unit, e.Elapsed)
	}
	return fmt.Sprintf("%s timed out", e.Unit)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// InfrastructureError marks a step failure as infrastructure-level, which
// makes the resulting ActionResult critical (replan-eligible). Semantic
// failures stay as plain errors.
type InfrastructureError struct {
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure: %v", e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// NewInfrastructureError wraps err as infrastructure-level.
func NewInfrastructureError(err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Err: err}
}

// IsInfrastructure reports whether err is classified infrastructure-level.
func IsInfrastructure(err error) bool {
	var infraErr *InfrastructureError
	return errors.As(err, &infraErr) || IsTimeout(err)
}
