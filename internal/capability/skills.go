package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"orchid/internal/engine/ports"
)

// skillsFile is the on-disk shape of a skill procedure catalog.
type skillsFile struct {
	Skills []skillSpec `yaml:"skills"`
}

type skillSpec struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Idempotent  bool       `yaml:"idempotent"`
	Steps       []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	Tool string         `yaml:"tool"`
	Args map[string]any `yaml:"args"`
}

// LoadSkills parses a YAML skill catalog and registers every procedure.
// Returns the number registered; a single bad procedure fails the whole load
// so a partially registered catalog never goes live.
func LoadSkills(registry *Registry, data []byte) (int, error) {
	var file skillsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse skill catalog: %w", err)
	}
	for i, spec := range file.Skills {
		skill := spec.toProcedure()
		if err := registry.RegisterSkill(skill); err != nil {
			return 0, fmt.Errorf("skill %d (%s): %w", i, spec.ID, err)
		}
	}
	return len(file.Skills), nil
}

// LoadSkillsFile loads a skill catalog from disk.
func LoadSkillsFile(registry *Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read skill catalog %s: %w", path, err)
	}
	return LoadSkills(registry, data)
}

func (s skillSpec) toProcedure() ports.SkillProcedure {
	steps := make([]ports.SkillStep, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = ports.SkillStep{ToolID: step.Tool, Args: step.Args}
	}
	return ports.SkillProcedure{
		ID:          s.ID,
		Description: s.Description,
		Idempotent:  s.Idempotent,
		Steps:       steps,
	}
}
