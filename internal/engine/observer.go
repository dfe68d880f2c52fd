package engine

import (
	"fmt"
	"strings"

	"orchid/internal/engine/ports"
)

// Observer decisions.
const (
	decisionReplan       = "replan"
	decisionRespond      = "respond"
	decisionRespondError = "respond_error"
)

// observation is the observer's verdict on one completed cycle.
type observation struct {
	decision   string
	reflection string
}

// observe inspects a cycle's results and picks the next state. The rules are
// deliberately mechanical:
//   - any usable result means the run can answer, so it answers;
//   - nothing usable and replan budget left means try a different plan, but
//     only when the failures were critical (infrastructure) rather than the
//     request itself being unserviceable;
//   - otherwise answer with an explicit error.
func observe(results []ports.ActionResult, state *runState, maxReplans int) observation {
	succeeded, failed, critical := tally(results)

	if succeeded > 0 || len(state.usableResults()) > 0 {
		return observation{
			decision:   decisionRespond,
			reflection: summarize(results, succeeded, failed),
		}
	}

	if critical > 0 && state.replans < maxReplans {
		return observation{
			decision: decisionReplan,
			reflection: fmt.Sprintf("all %d steps failed (%d critically); attempting a different plan (replan %d of %d): %s",
				failed, critical, state.replans+1, maxReplans, failureDigest(results)),
		}
	}

	return observation{
		decision: decisionRespondError,
		reflection: fmt.Sprintf("no step produced a usable result and no recovery is available: %s",
			failureDigest(results)),
	}
}

func tally(results []ports.ActionResult) (succeeded, failed, critical int) {
	for _, result := range results {
		if result.Success {
			succeeded++
			continue
		}
		failed++
		if result.Critical {
			critical++
		}
	}
	return
}

func summarize(results []ports.ActionResult, succeeded, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("all %d steps succeeded", succeeded)
	}
	return fmt.Sprintf("%d of %d steps succeeded; continuing with partial results: %s",
		succeeded, succeeded+failed, failureDigest(results))
}

// failureDigest names each failed step with a short reason.
func failureDigest(results []ports.ActionResult) string {
	var parts []string
	for _, result := range results {
		if result.Success {
			continue
		}
		reason := result.Error
		if len(reason) > 160 {
			reason = reason[:160] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s (%s): %s", result.StepID, result.CapabilityID, reason))
	}
	if len(parts) == 0 {
		return "no failures recorded"
	}
	return strings.Join(parts, "; ")
}
