package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"orchid/internal/engine/ports"
)

// agentsFile is the on-disk shape of an agent catalog.
type agentsFile struct {
	Agents []agentSpec `yaml:"agents"`
}

type agentSpec struct {
	ID           string   `yaml:"id"`
	OrgID        string   `yaml:"org_id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadAgents parses a YAML agent catalog and registers every profile. A
// single bad profile fails the whole load.
func LoadAgents(registry *Registry, data []byte) (int, error) {
	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse agent catalog: %w", err)
	}
	for i, spec := range file.Agents {
		if err := registry.RegisterAgent(ports.AgentProfile{
			ID:           spec.ID,
			OrgID:        spec.OrgID,
			Name:         spec.Name,
			Description:  spec.Description,
			SystemPrompt: spec.SystemPrompt,
			Capabilities: spec.Capabilities,
		}); err != nil {
			return 0, fmt.Errorf("agent %d (%s): %w", i, spec.ID, err)
		}
	}
	return len(file.Agents), nil
}

// LoadAgentsFile loads an agent catalog from disk.
func LoadAgentsFile(registry *Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read agent catalog %s: %w", path, err)
	}
	return LoadAgents(registry, data)
}
