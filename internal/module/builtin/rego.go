package builtin

import (
	"context"
	"errors"

	"github.com/tkingovr/aifirewall/internal/module"
	"github.com/tkingovr/aifirewall/internal/policy"
)

// RegoPolicySettings configures the regoPolicy module. Exactly one of
// PolicyFile and Policy must be set.
type RegoPolicySettings struct {
	PolicyFile string `yaml:"policy_file"`
	Policy     string `yaml:"policy"`
}

// RegoPolicy delegates the decision to an embedded OPA policy.
type RegoPolicy struct {
	engine policy.Engine
}

// NewRegoPolicy builds the module from settings.
func NewRegoPolicy(s module.Settings) (*RegoPolicy, error) {
	var cfg RegoPolicySettings
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}

	var (
		engine *policy.OPAEngine
		err    error
	)
	switch {
	case cfg.PolicyFile != "" && cfg.Policy != "":
		return nil, errors.New("set policy_file or policy, not both")
	case cfg.PolicyFile != "":
		engine, err = policy.NewOPAEngine(cfg.PolicyFile)
	case cfg.Policy != "":
		engine, err = policy.NewOPAEngineFromSource(cfg.Policy)
	default:
		return nil, errors.New("policy_file or policy is required")
	}
	if err != nil {
		return nil, err
	}
	return &RegoPolicy{engine: engine}, nil
}

func (m *RegoPolicy) Name() string { return NameRegoPolicy }

func (m *RegoPolicy) Process(ctx context.Context, content string) (module.Result, error) {
	res, err := m.engine.Evaluate(ctx, &policy.EvalInput{Content: content})
	if err != nil {
		return module.Result{}, err
	}
	out := module.Result{
		Allowed:         res.Allowed(),
		Confidence:      res.Confidence,
		Reason:          res.Message,
		ModifiedContent: res.Content,
	}
	if !out.Allowed && out.Reason == "" {
		out.Reason = "denied by policy"
	}
	return out, nil
}
