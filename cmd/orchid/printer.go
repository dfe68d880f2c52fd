package main

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"orchid/internal/events"
)

// progressPrinter renders run events as colored progress lines on stderr.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer

	dim     *color.Color
	step    *color.Color
	good    *color.Color
	bad     *color.Color
	warn    *color.Color
	heading *color.Color
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:     out,
		dim:     color.New(color.Faint),
		step:    color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		bad:     color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		heading: color.New(color.FgMagenta, color.Bold),
	}
}

// listenerOrNil avoids handing the engine a typed-nil listener.
func listenerOrNil(p *progressPrinter) events.Listener {
	if p == nil {
		return nil
	}
	return p
}

func (p *progressPrinter) OnEvent(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	indent := strings.Repeat("  ", event.GetDepth())

	switch e := event.(type) {
	case *events.PlanReadyEvent:
		if e.DirectAnswer {
			p.heading.Fprintf(p.out, "%s● plan %d: answering directly\n", indent, e.Iteration)
			return
		}
		p.heading.Fprintf(p.out, "%s● plan %d: %d steps\n", indent, e.Iteration, e.StepCount)

	case *events.StepStartedEvent:
		p.step.Fprintf(p.out, "%s  → %s (%s)\n", indent, e.StepID, e.CapabilityID)

	case *events.StepResultEvent:
		switch {
		case e.Success:
			p.good.Fprintf(p.out, "%s  ✓ %s %s\n", indent, e.StepID, p.dim.Sprintf("(%s)", duration(e.Duration)))
		case e.TimedOut:
			p.bad.Fprintf(p.out, "%s  ✗ %s timed out after %s\n", indent, e.StepID, duration(e.Duration))
		default:
			p.bad.Fprintf(p.out, "%s  ✗ %s failed: %s\n", indent, e.StepID, firstLine(e.Error))
		}

	case *events.DelegationStartedEvent:
		p.step.Fprintf(p.out, "%s  ⇒ delegating to %s: %s\n", indent, e.TargetAgentID, truncate(e.Task, 80))

	case *events.DelegationResultEvent:
		if e.Success {
			p.good.Fprintf(p.out, "%s  ⇐ %s answered %s\n", indent, e.TargetAgentID, p.dim.Sprintf("(%s)", duration(e.Duration)))
		} else {
			p.bad.Fprintf(p.out, "%s  ⇐ %s failed: %s\n", indent, e.TargetAgentID, firstLine(e.Error))
		}

	case *events.ReflectionEvent:
		switch e.Decision {
		case "replan":
			p.warn.Fprintf(p.out, "%s● replanning: %s\n", indent, truncate(e.Reflection, 120))
		default:
			p.dim.Fprintf(p.out, "%s● %s\n", indent, truncate(e.Reflection, 120))
		}

	case *events.RunErrorEvent:
		p.bad.Fprintf(p.out, "%s● %s error: %s\n", indent, e.Stage, firstLine(e.Error))

	case *events.FinalAnswerEvent:
		if event.GetDepth() == 0 {
			p.dim.Fprintf(p.out, "%s● done (%s, %d iterations, %s)\n",
				indent, e.StopReason, e.Iterations, duration(e.Duration))
		}
	}
}

func duration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 160)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
