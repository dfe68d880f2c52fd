package ports

import (
	"context"
	"time"
)

// RunLogEntry is one append-only record of a run stage transition.
type RunLogEntry struct {
	RunID   string    `json:"run_id"`
	OrgID   string    `json:"org_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Depth   int       `json:"depth"`
	Stage   string    `json:"stage"`            // "start", "plan", "act", "delegate", "observe", "respond"
	Event   string    `json:"event"`            // "start", "end", "error"
	Detail  string    `json:"detail,omitempty"` // truncated inputs/outputs
	At      time.Time `json:"at"`
}

// RunLog is the durable, append-only audit record for runs. It is written as
// the run progresses and never read back during the run itself.
type RunLog interface {
	Append(ctx context.Context, entry RunLogEntry) error
	Close() error
}
