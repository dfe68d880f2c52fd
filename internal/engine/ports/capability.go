package ports

import (
	"context"
	"fmt"
)

// CapabilityKind is the closed set of invocable capability variants.
type CapabilityKind string

const (
	KindTool     CapabilityKind = "tool"
	KindSkill    CapabilityKind = "skill"
	KindSubAgent CapabilityKind = "sub_agent"
)

// Property describes one schema property of a capability input.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ParameterSchema is a JSON-schema-shaped description of capability input.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Validate checks args against the schema: required keys present, basic type
// match for declared properties. Unknown keys are tolerated.
func (s ParameterSchema) Validate(args map[string]any) error {
	for _, key := range s.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required parameter %q", key)
		}
	}
	for key, value := range args {
		prop, ok := s.Properties[key]
		if !ok || value == nil {
			continue
		}
		if err := prop.check(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (p Property) check(key string, value any) error {
	switch p.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", key)
		}
	case "integer", "number":
		switch value.(type) {
		case int, int64, float64, float32:
		default:
			return fmt.Errorf("parameter %q must be a number", key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", key)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("parameter %q must be an array", key)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object", key)
		}
	}
	return nil
}

// CapabilityDescriptor is the immutable snapshot of one invocable capability.
// For sub_agent kind, SubCapabilities lists the peer's own capabilities one
// level deep and is never transitively re-exposed further.
type CapabilityDescriptor struct {
	Kind            CapabilityKind         `json:"kind"`
	ID              string                 `json:"id"`
	Description     string                 `json:"description"`
	InputSchema     ParameterSchema        `json:"input_schema"`
	RiskClass       string                 `json:"risk_class,omitempty"` // "safe", "dangerous"
	Idempotent      bool                   `json:"idempotent"`
	SubCapabilities []CapabilityDescriptor `json:"sub_capabilities,omitempty"`
}

// ToolOutput is the payload a tool handler returns.
type ToolOutput struct {
	Content  string
	Metadata map[string]any
}

// Tool is one invocable tool handler.
type Tool interface {
	// Descriptor returns the tool's immutable capability descriptor.
	Descriptor() CapabilityDescriptor

	// Execute runs the tool. A returned error is a semantic failure unless it
	// is wrapped as an InfrastructureError.
	Execute(ctx context.Context, args map[string]any) (*ToolOutput, error)
}

// SkillStep is one tool invocation inside a skill procedure.
type SkillStep struct {
	ToolID string         `yaml:"tool" json:"tool"`
	Args   map[string]any `yaml:"args" json:"args"`
}

// SkillProcedure is a declared sequence of tool calls resolved by the
// executor when a skill capability is invoked.
type SkillProcedure struct {
	ID          string      `yaml:"id" json:"id"`
	Description string      `yaml:"description" json:"description"`
	Idempotent  bool        `yaml:"idempotent" json:"idempotent"`
	Steps       []SkillStep `yaml:"steps" json:"steps"`
}

// AgentProfile describes one registered agent.
type AgentProfile struct {
	ID           string   `json:"id"`
	OrgID        string   `json:"org_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	Capabilities []string `json:"capabilities"` // capability ids owned by the agent
}

// Snapshot is the read-only, per-run view of an agent's capabilities: the
// descriptor list plus a dispatch table resolved once at run start. It is
// safe to share across all concurrent branches of one run.
type Snapshot struct {
	AgentID     string
	Agent       AgentProfile
	Descriptors []CapabilityDescriptor

	tools  map[string]Tool
	skills map[string]SkillProcedure
	peers  map[string]AgentProfile
}

// NewSnapshot assembles a snapshot with its dispatch tables.
func NewSnapshot(agent AgentProfile, descriptors []CapabilityDescriptor,
	tools map[string]Tool, skills map[string]SkillProcedure, peers map[string]AgentProfile) *Snapshot {
	return &Snapshot{
		AgentID:     agent.ID,
		Agent:       agent,
		Descriptors: descriptors,
		tools:       tools,
		skills:      skills,
		peers:       peers,
	}
}

// Descriptor returns the descriptor for a capability id.
func (s *Snapshot) Descriptor(id string) (CapabilityDescriptor, bool) {
	for _, d := range s.Descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return CapabilityDescriptor{}, false
}

// Tool returns the tool handler for a tool capability id.
func (s *Snapshot) Tool(id string) (Tool, bool) {
	tool, ok := s.tools[id]
	return tool, ok
}

// Skill returns the skill procedure for a skill capability id.
func (s *Snapshot) Skill(id string) (SkillProcedure, bool) {
	skill, ok := s.skills[id]
	return skill, ok
}

// Peer returns the peer agent profile for a sub_agent capability id.
func (s *Snapshot) Peer(id string) (AgentProfile, bool) {
	peer, ok := s.peers[id]
	return peer, ok
}

// Directory resolves capability names to invocable descriptors and produces
// per-agent snapshots. Called once per run start; the snapshot is cached for
// the run's duration.
type Directory interface {
	Resolve(ctx context.Context, capabilityID string) (CapabilityDescriptor, error)
	SnapshotFor(ctx context.Context, agentID string) (*Snapshot, error)
}
