package engine

import (
	"context"
	"fmt"
	"strings"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
	"orchid/internal/token"
)

// responder produces the run's final answer. It never fails: when the model
// is unavailable it degrades to assembling the collected results directly,
// and when nothing usable exists it states the failure explicitly.
type responder struct {
	llm           ports.LLMClient
	historyBudget int
	logger        logging.Logger
}

const responderPrompt = `You are the responding component of an agent run. Using the conversation and the step results it contains, write the final answer to the user's original request. Answer directly and concretely. If some steps failed, answer from what succeeded and say what could not be determined.`

func newResponder(llm ports.LLMClient, historyBudget int, logger logging.Logger) *responder {
	return &responder{llm: llm, historyBudget: historyBudget, logger: logging.OrNop(logger)}
}

// respond synthesizes the final answer from the run history.
func (r *responder) respond(ctx context.Context, snapshot *ports.Snapshot, state *runState) string {
	messages := token.TrimMessages(state.history, r.historyBudget)
	messages = append(messages, ports.Message{
		Role:    "user",
		Content: "Write the final answer to the original request now.",
	})

	response, err := r.llm.Complete(ctx, ports.CompletionRequest{
		SystemPrompt: responderPrompt,
		Messages:     messages,
		ResponseMode: ports.ResponseModeText,
		Temperature:  0.4,
	})
	if err == nil && strings.TrimSpace(response.Content) != "" {
		return strings.TrimSpace(response.Content)
	}
	if err != nil {
		r.logger.Warn("responder model unavailable, degrading to assembled results: %v", err)
	}
	return r.assemble(state)
}

// assemble is the model-free degraded answer: the usable outputs, stitched
// together with an honest note about the degradation.
func (r *responder) assemble(state *runState) string {
	usable := state.usableResults()
	if len(usable) == 0 {
		return r.respondError(state, "no step produced a usable result")
	}

	var sb strings.Builder
	sb.WriteString("The request could not be fully synthesized, but the following was gathered:\n")
	for _, result := range usable {
		output := strings.TrimSpace(result.Output)
		if output == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", result.CapabilityID, output)
	}
	return strings.TrimSpace(sb.String())
}

// respondError produces the explicit failure answer. Every run answers, even
// the ones that failed.
func (r *responder) respondError(state *runState, reason string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The request %q could not be completed: %s.", state.task, reason)

	var failures []string
	for _, result := range state.results {
		if result.Success {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", result.CapabilityID, result.Error))
	}
	if len(failures) > 0 {
		sb.WriteString(" Failures: ")
		sb.WriteString(strings.Join(failures, "; "))
		sb.WriteString(".")
	}
	return sb.String()
}
