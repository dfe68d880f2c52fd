package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchid/internal/engine/ports"
)

type stubTool struct {
	id string
}

func (t stubTool) Descriptor() ports.CapabilityDescriptor {
	return ports.CapabilityDescriptor{
		Kind:       ports.KindTool,
		ID:         t.id,
		Idempotent: true,
		InputSchema: ports.ParameterSchema{
			Type:     "object",
			Required: []string{"input"},
			Properties: map[string]ports.Property{
				"input": {Type: "string"},
			},
		},
	}
}

func (t stubTool) Execute(ctx context.Context, args map[string]any) (*ports.ToolOutput, error) {
	return &ports.ToolOutput{Content: "ok"}, nil
}

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry(nil)
	require.NoError(t, registry.RegisterTool(stubTool{id: "search"}))
	require.NoError(t, registry.RegisterTool(stubTool{id: "calculator"}))
	require.NoError(t, registry.RegisterSkill(ports.SkillProcedure{
		ID:         "research",
		Idempotent: true,
		Steps: []ports.SkillStep{
			{ToolID: "search", Args: map[string]any{"input": "query"}},
			{ToolID: "calculator", Args: map[string]any{"input": "sum"}},
		},
	}))
	require.NoError(t, registry.RegisterAgent(ports.AgentProfile{
		ID:           "analyst",
		OrgID:        "acme",
		Capabilities: []string{"search", "research"},
	}))
	require.NoError(t, registry.RegisterAgent(ports.AgentProfile{
		ID:           "coordinator",
		OrgID:        "acme",
		Capabilities: []string{"calculator", "analyst"},
	}))
	return registry
}

func TestRegistryRejectsDuplicatesAndDanglingSkills(t *testing.T) {
	registry := seedRegistry(t)

	assert.Error(t, registry.RegisterTool(stubTool{id: "search"}))
	assert.Error(t, registry.RegisterSkill(ports.SkillProcedure{
		ID:    "broken",
		Steps: []ports.SkillStep{{ToolID: "no_such_tool"}},
	}))
	assert.Error(t, registry.RegisterAgent(ports.AgentProfile{ID: "analyst"}))
}

func TestSnapshotForResolvesDispatchTables(t *testing.T) {
	directory, err := NewDirectory(seedRegistry(t), nil, nil)
	require.NoError(t, err)

	snapshot, err := directory.SnapshotFor(context.Background(), "coordinator")
	require.NoError(t, err)

	_, ok := snapshot.Tool("calculator")
	assert.True(t, ok)
	peer, ok := snapshot.Peer("analyst")
	require.True(t, ok)
	assert.Equal(t, "acme", peer.OrgID)

	descriptor, ok := snapshot.Descriptor("analyst")
	require.True(t, ok)
	assert.Equal(t, ports.KindSubAgent, descriptor.Kind)
	// Peer capabilities are exposed one level deep only.
	require.Len(t, descriptor.SubCapabilities, 2)
	for _, sub := range descriptor.SubCapabilities {
		assert.Empty(t, sub.SubCapabilities)
	}
}

func TestSnapshotIncludesBuiltins(t *testing.T) {
	registry := seedRegistry(t)
	require.NoError(t, registry.RegisterTool(stubTool{id: "always_on"}))

	directory, err := NewDirectory(registry, []string{"always_on"}, nil)
	require.NoError(t, err)

	snapshot, err := directory.SnapshotFor(context.Background(), "analyst")
	require.NoError(t, err)

	_, ok := snapshot.Tool("always_on")
	assert.True(t, ok, "builtin tools are granted to every agent")
	_, ok = snapshot.Descriptor("always_on")
	assert.True(t, ok)
}

func TestSnapshotCacheInvalidatesOnRegistryMutation(t *testing.T) {
	registry := seedRegistry(t)
	directory, err := NewDirectory(registry, nil, nil)
	require.NoError(t, err)

	first, err := directory.SnapshotFor(context.Background(), "analyst")
	require.NoError(t, err)
	again, err := directory.SnapshotFor(context.Background(), "analyst")
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged registry reuses the cached snapshot")

	require.NoError(t, registry.RegisterTool(stubTool{id: "fresh"}))
	after, err := directory.SnapshotFor(context.Background(), "analyst")
	require.NoError(t, err)
	assert.NotSame(t, first, after, "registry mutation invalidates cached snapshots")
}

func TestSnapshotForUnknownAgent(t *testing.T) {
	directory, err := NewDirectory(seedRegistry(t), nil, nil)
	require.NoError(t, err)

	_, err = directory.SnapshotFor(context.Background(), "ghost")
	assert.ErrorIs(t, err, ports.ErrUnknownAgent)
}

func TestResolveUnknownCapability(t *testing.T) {
	directory, err := NewDirectory(seedRegistry(t), nil, nil)
	require.NoError(t, err)

	_, err = directory.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrUnknownCapability)
}

func TestLoadSkillsFromYAML(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.RegisterTool(stubTool{id: "search"}))

	catalog := `
skills:
  - id: lookup
    description: search twice
    idempotent: true
    steps:
      - tool: search
        args:
          input: first
      - tool: search
        args:
          input: second
`
	count, err := LoadSkills(registry, []byte(catalog))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	skill, ok := registry.Skill("lookup")
	require.True(t, ok)
	assert.True(t, skill.Idempotent)
	require.Len(t, skill.Steps, 2)
	assert.Equal(t, "search", skill.Steps[0].ToolID)
	assert.Equal(t, "first", skill.Steps[0].Args["input"])
}

func TestLoadSkillsRejectsDanglingTool(t *testing.T) {
	registry := NewRegistry(nil)

	_, err := LoadSkills(registry, []byte("skills:\n  - id: bad\n    steps:\n      - tool: missing\n"))
	assert.Error(t, err)
}
