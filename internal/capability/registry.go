// Package capability maintains the registry of agents, tools, and skill
// procedures, and builds the immutable per-run capability snapshots the
// engine dispatches against.
package capability

import (
	"fmt"
	"sync"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

// Registry is the mutable source of truth for registered capabilities.
// Snapshots taken from it are immutable; mutation after a run started never
// affects that run.
type Registry struct {
	mu      sync.RWMutex
	version uint64

	tools  map[string]ports.Tool
	skills map[string]ports.SkillProcedure
	agents map[string]ports.AgentProfile

	logger logging.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]ports.Tool),
		skills: make(map[string]ports.SkillProcedure),
		agents: make(map[string]ports.AgentProfile),
		logger: logging.OrNop(logger),
	}
}

// RegisterTool adds a tool handler. Duplicate ids are rejected.
func (r *Registry) RegisterTool(tool ports.Tool) error {
	descriptor := tool.Descriptor()
	if descriptor.ID == "" {
		return fmt.Errorf("tool descriptor has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[descriptor.ID]; exists {
		return fmt.Errorf("tool %q already registered", descriptor.ID)
	}
	r.tools[descriptor.ID] = tool
	r.version++
	r.logger.Debug("registered tool %s", descriptor.ID)
	return nil
}

// RegisterSkill adds a skill procedure. Every referenced tool must already be
// registered so plans can never name a skill with a dangling step.
func (r *Registry) RegisterSkill(skill ports.SkillProcedure) error {
	if skill.ID == "" {
		return fmt.Errorf("skill has empty id")
	}
	if len(skill.Steps) == 0 {
		return fmt.Errorf("skill %q has no steps", skill.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[skill.ID]; exists {
		return fmt.Errorf("skill %q already registered", skill.ID)
	}
	for _, step := range skill.Steps {
		if _, ok := r.tools[step.ToolID]; !ok {
			return fmt.Errorf("skill %q references unknown tool %q", skill.ID, step.ToolID)
		}
	}
	r.skills[skill.ID] = skill
	r.version++
	r.logger.Debug("registered skill %s (%d steps)", skill.ID, len(skill.Steps))
	return nil
}

// RegisterAgent adds an agent profile. Capability ids are validated lazily at
// snapshot time because peers may register in any order.
func (r *Registry) RegisterAgent(agent ports.AgentProfile) error {
	if agent.ID == "" {
		return fmt.Errorf("agent profile has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("agent %q already registered", agent.ID)
	}
	r.agents[agent.ID] = agent
	r.version++
	r.logger.Debug("registered agent %s (%d capabilities)", agent.ID, len(agent.Capabilities))
	return nil
}

// Agent returns a registered agent profile.
func (r *Registry) Agent(id string) (ports.AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	return agent, ok
}

// Tool returns a registered tool handler.
func (r *Registry) Tool(id string) (ports.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// Skill returns a registered skill procedure.
func (r *Registry) Skill(id string) (ports.SkillProcedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[id]
	return skill, ok
}

// Version increments on every mutation; snapshot caches key on it.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
