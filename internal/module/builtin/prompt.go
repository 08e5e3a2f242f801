package builtin

import (
	"context"
	"fmt"

	"github.com/tkingovr/aifirewall/api"
	"github.com/tkingovr/aifirewall/internal/module"
	"github.com/tkingovr/aifirewall/internal/policy"
)

// PromptProtectionSettings configures the promptProtection module.
type PromptProtectionSettings struct {
	// Rules are evaluated before the built-in injection rules.
	Rules []policy.Rule `yaml:"rules"`

	// RulesFile loads additional rules from a YAML rule file.
	RulesFile string `yaml:"rules_file"`

	DisableDefaults bool `yaml:"disable_defaults"`
}

// PromptProtection detects prompt injection with first-match-wins rules.
type PromptProtection struct {
	engine policy.Engine
}

// NewPromptProtection builds the module from settings.
func NewPromptProtection(s module.Settings) (*PromptProtection, error) {
	var cfg PromptProtectionSettings
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}

	rules := append([]policy.Rule(nil), cfg.Rules...)
	if cfg.RulesFile != "" {
		rf, err := policy.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rf.Rules...)
	}
	if !cfg.DisableDefaults {
		rules = append(rules, policy.DefaultInjectionRules()...)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules configured and defaults disabled")
	}

	rs, err := policy.NewRuleSet(rules, api.DecisionAllow)
	if err != nil {
		return nil, err
	}
	return &PromptProtection{engine: rs}, nil
}

func (m *PromptProtection) Name() string { return NamePromptProtection }

func (m *PromptProtection) Process(ctx context.Context, content string) (module.Result, error) {
	if err := ctx.Err(); err != nil {
		return module.Result{}, err
	}
	res, err := m.engine.Evaluate(ctx, &policy.EvalInput{Content: content})
	if err != nil {
		return module.Result{}, err
	}
	if res.Allowed() {
		return module.Allow(res.Confidence), nil
	}
	reason := res.Message
	if reason == "" {
		reason = "matched rule " + res.Rule
	}
	return module.Deny(res.Confidence, reason), nil
}
