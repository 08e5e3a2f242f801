package module

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings holds a module's raw settings from the config file.
type Settings struct {
	node *yaml.Node
}

// NewSettings wraps a settings node. A nil or empty node means no settings.
func NewSettings(node *yaml.Node) Settings {
	return Settings{node: node}
}

// SettingsFromYAML parses settings from YAML text. Mostly useful in tests.
func SettingsFromYAML(data string) (Settings, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return Settings{}, fmt.Errorf("parsing settings: %w", err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		return Settings{node: doc.Content[0]}, nil
	}
	return Settings{}, nil
}

// Empty reports whether no settings were given.
func (s Settings) Empty() bool {
	return s.node == nil || s.node.Kind == 0
}

// Decode decodes the settings into v. Empty settings leave v untouched.
func (s Settings) Decode(v any) error {
	if s.Empty() {
		return nil
	}
	if err := s.node.Decode(v); err != nil {
		return fmt.Errorf("decoding settings: %w", err)
	}
	return nil
}
