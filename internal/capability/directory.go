package capability

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"orchid/internal/engine/ports"
	"orchid/internal/logging"
)

const snapshotCacheSize = 128

// Directory resolves capability ids against the registry and assembles
// per-agent snapshots. Snapshots are cached keyed on the registry version, so
// a registry mutation invalidates them without any explicit flush.
type Directory struct {
	registry *Registry
	cache    *lru.Cache[string, *ports.Snapshot]

	// builtinIDs are tool ids granted to every agent in addition to its own
	// profile, including delegated sub-agents.
	builtinIDs []string

	logger logging.Logger
}

// NewDirectory builds a directory over the registry. builtinIDs name tools
// every snapshot includes regardless of the agent profile.
func NewDirectory(registry *Registry, builtinIDs []string, logger logging.Logger) (*Directory, error) {
	cache, err := lru.New[string, *ports.Snapshot](snapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Directory{
		registry:   registry,
		cache:      cache,
		builtinIDs: builtinIDs,
		logger:     logging.OrNop(logger),
	}, nil
}

// Resolve maps one capability id to its descriptor.
func (d *Directory) Resolve(ctx context.Context, capabilityID string) (ports.CapabilityDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return ports.CapabilityDescriptor{}, err
	}
	if tool, ok := d.registry.Tool(capabilityID); ok {
		return tool.Descriptor(), nil
	}
	if skill, ok := d.registry.Skill(capabilityID); ok {
		return skillDescriptor(skill), nil
	}
	if agent, ok := d.registry.Agent(capabilityID); ok {
		return d.peerDescriptor(agent), nil
	}
	return ports.CapabilityDescriptor{}, fmt.Errorf("%w: %s", ports.ErrUnknownCapability, capabilityID)
}

// SnapshotFor assembles the immutable capability view for one agent: its
// profile capabilities plus the builtin tool set, with dispatch tables
// resolved up front.
func (d *Directory) SnapshotFor(ctx context.Context, agentID string) (*ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d/%s", d.registry.Version(), agentID)
	if snapshot, ok := d.cache.Get(key); ok {
		return snapshot, nil
	}

	agent, ok := d.registry.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownAgent, agentID)
	}

	ids := make([]string, 0, len(agent.Capabilities)+len(d.builtinIDs))
	seen := make(map[string]bool, len(agent.Capabilities)+len(d.builtinIDs))
	for _, id := range append(append([]string{}, agent.Capabilities...), d.builtinIDs...) {
		if id == agentID || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	descriptors := make([]ports.CapabilityDescriptor, 0, len(ids))
	tools := make(map[string]ports.Tool)
	skills := make(map[string]ports.SkillProcedure)
	peers := make(map[string]ports.AgentProfile)

	for _, id := range ids {
		if tool, ok := d.registry.Tool(id); ok {
			descriptors = append(descriptors, tool.Descriptor())
			tools[id] = tool
			continue
		}
		if skill, ok := d.registry.Skill(id); ok {
			descriptors = append(descriptors, skillDescriptor(skill))
			skills[id] = skill
			for _, step := range skill.Steps {
				if tool, ok := d.registry.Tool(step.ToolID); ok {
					tools[step.ToolID] = tool
				}
			}
			continue
		}
		if peer, ok := d.registry.Agent(id); ok {
			descriptors = append(descriptors, d.peerDescriptor(peer))
			peers[id] = peer
			continue
		}
		return nil, fmt.Errorf("agent %s: %w: %s", agentID, ports.ErrUnknownCapability, id)
	}

	snapshot := ports.NewSnapshot(agent, descriptors, tools, skills, peers)
	d.cache.Add(key, snapshot)
	d.logger.Debug("built snapshot for agent %s: %d capabilities", agentID, len(descriptors))
	return snapshot, nil
}

// BuiltinIDs reports the tool ids granted to every agent.
func (d *Directory) BuiltinIDs() []string {
	out := make([]string, len(d.builtinIDs))
	copy(out, d.builtinIDs)
	return out
}

func skillDescriptor(skill ports.SkillProcedure) ports.CapabilityDescriptor {
	return ports.CapabilityDescriptor{
		Kind:        ports.KindSkill,
		ID:          skill.ID,
		Description: skill.Description,
		Idempotent:  skill.Idempotent,
		InputSchema: ports.ParameterSchema{Type: "object"},
	}
}

// peerDescriptor exposes a peer agent as an invocable capability. The peer's
// own capabilities appear one level deep; anything deeper is stripped so a
// snapshot never leaks a transitive capability graph.
func (d *Directory) peerDescriptor(peer ports.AgentProfile) ports.CapabilityDescriptor {
	sub := make([]ports.CapabilityDescriptor, 0, len(peer.Capabilities))
	for _, id := range peer.Capabilities {
		if tool, ok := d.registry.Tool(id); ok {
			sub = append(sub, tool.Descriptor())
			continue
		}
		if skill, ok := d.registry.Skill(id); ok {
			sub = append(sub, skillDescriptor(skill))
			continue
		}
		if nested, ok := d.registry.Agent(id); ok {
			// One level only: a nested peer shows up by name, without its own
			// capability list. Mutual peering must not recurse.
			sub = append(sub, ports.CapabilityDescriptor{
				Kind:        ports.KindSubAgent,
				ID:          nested.ID,
				Description: nested.Description,
			})
		}
	}
	return ports.CapabilityDescriptor{
		Kind:        ports.KindSubAgent,
		ID:          peer.ID,
		Description: peer.Description,
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"task": {Type: "string", Description: "natural-language task for the delegated agent"},
			},
			Required: []string{"task"},
		},
		SubCapabilities: sub,
	}
}
