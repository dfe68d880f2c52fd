package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

// ExecutionResult captures everything observable about one sandboxed run.
// Created once per Runner invocation; immutable afterwards.
type ExecutionResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// ExitStatus is nil when no process was launched (policy violation) or
	// the process was reaped after a timeout.
	ExitStatus      *int          `json:"exit_status"`
	TimedOut        bool          `json:"timed_out"`
	WallTime        time.Duration `json:"wall_time"`
	PeakRSSKB       int64         `json:"peak_rss_kb"` // best-effort
	PolicyViolation string        `json:"policy_violation,omitempty"`
}

// Runner executes exactly one untrusted code unit. Concurrent executions get
// one Runner instance each; Runners never share process state.
type Runner struct {
	policy   Policy
	logger   logging.Logger
	clock    ports.Clock
	launched atomic.Bool

	// killGrace bounds how long we wait for the process group to die after
	// the deadline before reporting a reap failure.
	killGrace time.Duration
}

// NewRunner builds a single-use runner bound to one policy.
func NewRunner(policy Policy, logger logging.Logger) *Runner {
	if policy.WallClockLimit <= 0 {
		policy.WallClockLimit = DefaultPolicy().WallClockLimit
	}
	return &Runner{
		policy:    policy,
		logger:    logging.OrNop(logger),
		clock:     ports.SystemClock{},
		killGrace: 5 * time.Second,
	}
}

// Execute validates and runs one code unit. A deny-list match short-circuits
// with PolicyViolation set and never launches a process. Exceeding the
// wall-clock ceiling is a termination, not a crash: the result records
// timed_out=true with whatever output was captured, and the underlying
// process group is forcibly reaped.
func (r *Runner) Execute(ctx context.Context, language, code string) (*ExecutionResult, error) {
	if !r.launched.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("sandbox runner already used; one execution per instance")
	}

	language = normalizeLanguage(language)
	if language == "" {
		return nil, fmt.Errorf("unsupported sandbox language")
	}

	if violation := r.policy.Check(language, code); violation != nil {
		r.logger.Warn("sandbox refused pre-launch: %s", violation)
		return &ExecutionResult{PolicyViolation: violation.String()}, nil
	}

	workDir, err := os.MkdirTemp("", "orchid-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	cmd, err := r.buildCommand(language, code, workDir)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = workDir
	cmd.Env = r.environment()
	// Own process group so a timeout kill reaps grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := r.clock.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch sandbox process: %w", err)
	}
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.NewTimer(r.policy.WallClockLimit)
	defer deadline.Stop()

	result := &ExecutionResult{}
	select {
	case waitErr := <-done:
		result.WallTime = r.clock.Now().Sub(start)
		code := exitCode(cmd, waitErr)
		result.ExitStatus = &code

	case <-ctx.Done():
		r.reap(pgid, done)
		result.WallTime = r.clock.Now().Sub(start)
		result.TimedOut = true
		r.logger.Info("sandbox cancelled after %v", result.WallTime)

	case <-deadline.C:
		r.reap(pgid, done)
		result.WallTime = r.clock.Now().Sub(start)
		result.TimedOut = true
		r.logger.Warn("sandbox hit wall-clock ceiling %v, process group killed", r.policy.WallClockLimit)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.PeakRSSKB = peakRSS(cmd)
	return result, nil
}

// reap kills the process group and waits (bounded) for the OS to confirm.
func (r *Runner) reap(pgid int, done <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	select {
	case <-done:
	case <-time.After(r.killGrace):
		r.logger.Error("sandbox process group %d not reaped within %v", pgid, r.killGrace)
	}
}

func (r *Runner) buildCommand(language, code, workDir string) (*exec.Cmd, error) {
	var argv []string
	switch language {
	case "python":
		argv = []string{"python3", "-c", code}
	case "javascript":
		path := filepath.Join(workDir, "main.js")
		if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
			return nil, fmt.Errorf("write sandbox source: %w", err)
		}
		argv = []string{"node", path}
	case "bash":
		if !strings.HasPrefix(code, "#!") {
			code = "#!/bin/bash\n" + code
		}
		path := filepath.Join(workDir, "main.sh")
		if err := os.WriteFile(path, []byte(code), 0o755); err != nil {
			return nil, fmt.Errorf("write sandbox source: %w", err)
		}
		argv = []string{"bash", path}
	default:
		return nil, fmt.Errorf("unsupported sandbox language %q", language)
	}

	if r.policy.MemoryLimitMB > 0 {
		// ulimit applies to the whole process group spawned under the shell.
		limitKB := r.policy.MemoryLimitMB * 1024
		wrapped := fmt.Sprintf("ulimit -v %d; exec %s", limitKB, shellJoin(argv))
		return exec.Command("bash", "-c", wrapped), nil
	}
	return exec.Command(argv[0], argv[1:]...), nil
}

// environment builds a stripped-down environment for the child: a minimal
// PATH, no proxy or credential variables inherited from the host.
func (r *Runner) environment() []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
	}
	if !r.policy.AllowNetwork {
		// Best-effort network discouragement for tools honoring proxy vars;
		// real network isolation comes from the deployment boundary.
		env = append(env, "http_proxy=http://127.0.0.1:1", "https_proxy=http://127.0.0.1:1", "no_proxy=")
	}
	return env
}

func normalizeLanguage(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "py", "python3":
		return "python"
	case "javascript", "js", "node":
		return "javascript"
	case "bash", "sh", "shell":
		return "bash"
	default:
		return ""
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func peakRSS(cmd *exec.Cmd) int64 {
	if cmd.ProcessState == nil {
		return 0
	}
	if rusage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok {
		return rusage.Maxrss
	}
	return 0
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
