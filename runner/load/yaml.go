// Package load reads scenario definitions from external formats: YAML files
// for authoring and Graphviz DOT for graph-shaped tooling.
package load

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Wshaoqing721/synmatai-test-platform/runner"
)

// File is a parsed scenario file: the scenario plus optional run defaults
// the file may carry. Defaults are advisory; explicit run options win.
type File struct {
	Scenario *runner.Scenario

	// NumUsers and Concurrency are fan-out defaults, zero when the file
	// does not set them.
	NumUsers    int
	Concurrency int
}

// yamlScenario is the on-disk YAML shape. Exactly one of steps (linear
// form) or nodes (DAG form) must be present.
type yamlScenario struct {
	Name        string              `yaml:"name"`
	NumUsers    int                 `yaml:"num_users"`
	Concurrency int                 `yaml:"concurrency"`
	Steps       []runner.NodeConfig `yaml:"steps"`
	Nodes       []runner.NodeConfig `yaml:"nodes"`
}

// ReadYAMLFile reads and validates a scenario file, including its run
// defaults.
func ReadYAMLFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseYAML(data)
}

// FromYAMLFile reads and validates just the scenario from a YAML file.
func FromYAMLFile(path string) (*runner.Scenario, error) {
	file, err := ReadYAMLFile(path)
	if err != nil {
		return nil, err
	}
	return file.Scenario, nil
}

// FromYAML parses just the scenario from YAML bytes.
func FromYAML(data []byte) (*runner.Scenario, error) {
	file, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return file.Scenario, nil
}

// ParseYAML parses a scenario file from YAML bytes.
//
// Two forms are supported with the same execution semantics:
//   - steps: a declarative linear list; each step implicitly depends on
//     the previous one
//   - nodes: a full dependency graph with explicit dependencies
func ParseYAML(data []byte) (*File, error) {
	var raw yamlScenario
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if len(raw.Steps) > 0 && len(raw.Nodes) > 0 {
		return nil, fmt.Errorf("scenario %q declares both steps and nodes; pick one form", raw.Name)
	}

	var scenario runner.Scenario
	if len(raw.Steps) > 0 {
		scenario = runner.LinearScenario(raw.Name, raw.Steps)
	} else {
		scenario = runner.Scenario{Name: raw.Name, Nodes: raw.Nodes}
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", raw.Name, err)
	}
	return &File{
		Scenario:    &scenario,
		NumUsers:    raw.NumUsers,
		Concurrency: raw.Concurrency,
	}, nil
}
