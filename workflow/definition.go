package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/beruhq/beru/types"
)

// Definition is the serializable form of a workflow, the shape accepted by
// submission surfaces. Tasks reference each other by name, which doubles as
// the task id after conversion.
type Definition struct {
	Name  string              `yaml:"name" json:"name"`
	Mode  types.ExecutionMode `yaml:"mode" json:"mode"`
	Tasks []TaskDefinition    `yaml:"tasks" json:"tasks"`
}

// TaskDefinition is one task entry in a workflow definition.
type TaskDefinition struct {
	Name      string   `yaml:"name" json:"name"`
	Agent     string   `yaml:"agent" json:"agent"`
	Input     string   `yaml:"input" json:"input"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// Timeout is a Go duration string, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ParseDefinition decodes a YAML workflow definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	if def.Mode == "" {
		def.Mode = types.ModeMixed
	}
	return &def, nil
}

// LoadDefinition reads and decodes a YAML workflow definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

// Workflow converts the definition into a validated workflow. Task names
// become task ids, so they must be unique; dependencies reference names.
func (d *Definition) Workflow() (*Workflow, error) {
	if d.Name == "" {
		return nil, types.NewError(types.KindConstruction, "workflow definition has no name")
	}

	b := NewBuilder(d.Name).WithMode(d.Mode)
	for _, td := range d.Tasks {
		if td.Name == "" {
			return nil, types.NewError(types.KindConstruction, "task definition has no name")
		}
		var timeout time.Duration
		if td.Timeout != "" {
			parsed, err := time.ParseDuration(td.Timeout)
			if err != nil {
				return nil, types.Errorf(types.KindConstruction,
					"task %q has invalid timeout %q", td.Name, td.Timeout)
			}
			timeout = parsed
		}
		b.Task(types.Task{
			ID:           td.Name,
			Name:         td.Name,
			Input:        td.Input,
			AgentName:    td.Agent,
			Dependencies: append([]string(nil), td.DependsOn...),
			Timeout:      timeout,
		})
	}
	return b.Build()
}
