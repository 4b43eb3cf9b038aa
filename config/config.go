// Package config provides plain Go structs and an optional on-disk YAML
// loader for agent contract and tool registration, following the teacher's
// use of gopkg.in/yaml.v3 for declarative fixture files
// (integration_tests/framework/runner.go). It defines no functional options;
// those live beside the packages they configure.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is the sentinel wrapped by configuration validation failures
// (SPEC §7 ConfigError: invalid contract wiring, name collisions, duplicate
// registrations — fatal at startup).
var ErrInvalid = errors.New("config: invalid configuration")

// ContractSpec describes one event.Contract as loaded from YAML.
type ContractSpec struct {
	URI            string   `yaml:"uri"`
	Version        string   `yaml:"version"`
	AcceptedType   string   `yaml:"acceptedType"`
	EmittedTypes   []string `yaml:"emittedTypes"`
	CompletionType string   `yaml:"completionType"`
}

// ToolSpec describes one tool registration entry as loaded from YAML.
type ToolSpec struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	ServerKind       string `yaml:"serverKind"` // "external" | "mcp"
	Priority         int    `yaml:"priority"`
	RequiresApproval bool   `yaml:"requiresApproval"`
	Domain           string `yaml:"domain"` // routing domain override, optional
}

// AgentSpec is the on-disk declaration of one agent: its self-contract, the
// service contracts it calls out to, its registered tools, and the runner
// tunables that would otherwise need to be wired in code.
type AgentSpec struct {
	SelfContract            ContractSpec   `yaml:"selfContract"`
	ServiceContracts        []ContractSpec `yaml:"serviceContracts"`
	Tools                   []ToolSpec     `yaml:"tools"`
	MaxToolInteractions     int            `yaml:"maxToolInteractions"`
	IterationCeiling        int            `yaml:"iterationCeiling"`
	HumanInteractionDomains []string       `yaml:"humanInteractionDomains"`
}

// Load reads and parses an AgentSpec from a YAML file at path.
func Load(path string) (*AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}
	var spec AgentSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate applies defaults and checks invariants that must hold before an
// AgentSpec can be used to build a Runner/Handler pair.
func (s *AgentSpec) Validate() error {
	if s.SelfContract.URI == "" {
		return fmt.Errorf("%w: selfContract.uri is required", ErrInvalid)
	}
	if s.SelfContract.AcceptedType == "" {
		return fmt.Errorf("%w: selfContract.acceptedType is required", ErrInvalid)
	}
	if s.MaxToolInteractions <= 0 {
		s.MaxToolInteractions = 5
	}
	if s.IterationCeiling <= 0 {
		s.IterationCeiling = 50
	}
	seen := make(map[string]struct{}, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" {
			return fmt.Errorf("%w: tool entry missing name", ErrInvalid)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: duplicate tool registration %q", ErrInvalid, t.Name)
		}
		seen[t.Name] = struct{}{}
		switch t.ServerKind {
		case "external", "mcp":
		default:
			return fmt.Errorf("%w: tool %q has unknown serverKind %q", ErrInvalid, t.Name, t.ServerKind)
		}
	}
	return nil
}
