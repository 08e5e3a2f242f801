package policy

import "github.com/tkingovr/aifirewall/api"

// RuleFile is a standalone YAML rule file.
type RuleFile struct {
	Version  int          `yaml:"version" json:"version"`
	Settings RuleSettings `yaml:"settings" json:"settings"`
	Rules    []Rule       `yaml:"rules" json:"rules"`
}

// RuleSettings holds rule set wide settings.
type RuleSettings struct {
	// DefaultAction applies when no rule matches. Defaults to allow.
	DefaultAction api.Decision `yaml:"default_action" json:"default_action"`
}

// Rule is a single content rule. All set match conditions must hold.
type Rule struct {
	Name       string    `yaml:"name" json:"name"`
	Match      RuleMatch `yaml:"match" json:"match"`
	Action     string    `yaml:"action" json:"action"`
	Message    string    `yaml:"message,omitempty" json:"message,omitempty"`
	Confidence float64   `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// RuleMatch specifies conditions on the inspected content.
type RuleMatch struct {
	// Contains matches when any phrase occurs, case-insensitively.
	Contains []string `yaml:"contains,omitempty" json:"contains,omitempty"`

	// Regex matches against the raw content.
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`

	MinLength int `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength int `yaml:"max_length,omitempty" json:"max_length,omitempty"`
}

// EvalInput is the input to a policy engine evaluation.
type EvalInput struct {
	Content string `json:"content"`
}

// EvalResult is the output of a policy engine evaluation.
type EvalResult struct {
	Decision   api.Decision `json:"decision"`
	Rule       string       `json:"rule,omitempty"`
	Message    string       `json:"message,omitempty"`
	Confidence float64      `json:"confidence"`

	// Content is set when the policy rewrote the input.
	Content *string `json:"content,omitempty"`
}

// Allowed reports whether the decision is allow.
func (r *EvalResult) Allowed() bool {
	return r.Decision == api.DecisionAllow
}
