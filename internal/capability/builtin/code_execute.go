// Package builtin provides the tool set granted to every agent: sandboxed
// code execution, web fetching, and reflection memory search.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
	"orchid/internal/sandbox"
)

// CodeExecuteID is the capability id of the sandboxed execution tool.
const CodeExecuteID = "code_execute"

// CodeExecuteTool runs untrusted code inside the sandbox. Each invocation
// gets a fresh single-use runner; the policy is fixed at construction.
type CodeExecuteTool struct {
	policy sandbox.Policy
	logger logging.Logger
}

// NewCodeExecute builds the tool bound to one sandbox policy.
func NewCodeExecute(policy sandbox.Policy, logger logging.Logger) *CodeExecuteTool {
	return &CodeExecuteTool{policy: policy, logger: logging.OrNop(logger)}
}

func (t *CodeExecuteTool) Descriptor() ports.CapabilityDescriptor {
	return ports.CapabilityDescriptor{
		Kind:        ports.KindTool,
		ID:          CodeExecuteID,
		Description: "Execute a snippet of untrusted code (python, javascript, or bash) in an isolated sandbox and return its output",
		RiskClass:   "dangerous",
		Idempotent:  false,
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"language": {Type: "string", Description: "source language", Enum: []any{"python", "javascript", "bash"}},
				"code":     {Type: "string", Description: "the code to execute"},
			},
			Required: []string{"language", "code"},
		},
	}
}

func (t *CodeExecuteTool) Execute(ctx context.Context, args map[string]any) (*ports.ToolOutput, error) {
	language, _ := args["language"].(string)
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code must not be empty")
	}

	runner := sandbox.NewRunner(t.policy, t.logger)
	result, err := runner.Execute(ctx, language, code)
	if err != nil {
		return nil, ports.NewInfrastructureError(err)
	}

	output := &ports.ToolOutput{
		Content: result.Stdout,
		Metadata: map[string]any{
			"stderr":       result.Stderr,
			"wall_time_ms": result.WallTime.Milliseconds(),
			"peak_rss_kb":  result.PeakRSSKB,
		},
	}
	if result.ExitStatus != nil {
		output.Metadata["exit_status"] = *result.ExitStatus
	}

	if result.PolicyViolation != "" {
		output.Metadata["policy_violation"] = result.PolicyViolation
		return output, ports.NewInfrastructureError(
			fmt.Errorf("sandbox refused execution: %s", result.PolicyViolation))
	}
	if result.TimedOut {
		output.Metadata["timed_out"] = true
		return output, &ports.TimeoutError{Unit: "sandbox", Elapsed: result.WallTime.Round(time.Millisecond).String()}
	}
	if result.ExitStatus != nil && *result.ExitStatus != 0 {
		return output, fmt.Errorf("process exited with status %d: %s",
			*result.ExitStatus, firstLine(result.Stderr))
	}
	return output, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
