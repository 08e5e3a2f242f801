package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is one entry of the modules section: a module name, its
// enabled flag and its raw settings.
type ModuleConfig struct {
	Name     string
	Enabled  bool
	Settings yaml.Node
}

// ModuleList keeps module entries in the order they are declared in the file.
// The pipeline runs modules in this order.
type ModuleList []ModuleConfig

// UnmarshalYAML accepts a mapping whose values are either a bare bool
//
//	promptProtection: true
//
// or a mapping with an optional enabled flag (default true) and settings
//
//	promptProtection:
//	  enabled: true
//	  settings: {...}
func (l *ModuleList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: modules must be a mapping of module name to enabled flag", node.Line)
	}

	out := make(ModuleList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		mc := ModuleConfig{Name: key.Value}

		switch val.Kind {
		case yaml.ScalarNode:
			if err := val.Decode(&mc.Enabled); err != nil {
				return fmt.Errorf("module %q: enabled flag: %w", key.Value, err)
			}
		case yaml.MappingNode:
			var body struct {
				Enabled  *bool     `yaml:"enabled"`
				Settings yaml.Node `yaml:"settings"`
			}
			if err := val.Decode(&body); err != nil {
				return fmt.Errorf("module %q: %w", key.Value, err)
			}
			mc.Enabled = body.Enabled == nil || *body.Enabled
			mc.Settings = body.Settings
		default:
			return fmt.Errorf("line %d: module %q must be a bool or a mapping", val.Line, key.Value)
		}

		out = append(out, mc)
	}

	*l = out
	return nil
}

// MarshalYAML renders the list back as an ordered mapping.
func (l ModuleList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, mc := range l {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: mc.Name}

		if mc.Settings.Kind == 0 {
			val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", mc.Enabled)}
			node.Content = append(node.Content, key, val)
			continue
		}

		settings := mc.Settings
		val := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "enabled"},
			{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", mc.Enabled)},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "settings"},
			&settings,
		}}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// Enabled returns the enabled entries in declaration order.
func (l ModuleList) Enabled() []ModuleConfig {
	var out []ModuleConfig
	for _, mc := range l {
		if mc.Enabled {
			out = append(out, mc)
		}
	}
	return out
}

// Flags maps every declared module to its enabled flag.
func (l ModuleList) Flags() map[string]bool {
	flags := make(map[string]bool, len(l))
	for _, mc := range l {
		flags[mc.Name] = mc.Enabled
	}
	return flags
}

// Names returns the declared module names in order.
func (l ModuleList) Names() []string {
	names := make([]string, len(l))
	for i, mc := range l {
		names[i] = mc.Name
	}
	return names
}
