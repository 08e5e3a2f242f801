package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/aifirewall/api"
)

// LoadFile reads and validates a YAML rule file.
func LoadFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML rule data.
func LoadBytes(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule YAML: %w", err)
	}
	if err := validate(&rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

func validate(rf *RuleFile) error {
	if rf.Version != 1 {
		return fmt.Errorf("unsupported rule file version: %d (expected 1)", rf.Version)
	}

	switch rf.Settings.DefaultAction {
	case "":
		rf.Settings.DefaultAction = api.DecisionAllow
	case api.DecisionAllow, api.DecisionDeny:
	default:
		return fmt.Errorf("invalid default_action %q", rf.Settings.DefaultAction)
	}

	names := make(map[string]bool, len(rf.Rules))
	for i, rule := range rf.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if names[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		names[rule.Name] = true

		if rule.Action != string(api.DecisionAllow) && rule.Action != string(api.DecisionDeny) {
			return fmt.Errorf("rule %q: invalid action %q", rule.Name, rule.Action)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return fmt.Errorf("rule %q: confidence %v out of range [0,1]", rule.Name, rule.Confidence)
		}
		m := rule.Match
		if len(m.Contains) == 0 && m.Regex == "" && m.MinLength == 0 && m.MaxLength == 0 {
			return fmt.Errorf("rule %q: match needs at least one condition", rule.Name)
		}
		if m.Regex != "" {
			if _, err := regexp.Compile(m.Regex); err != nil {
				return fmt.Errorf("rule %q: regex invalid: %w", rule.Name, err)
			}
		}
	}
	return nil
}
