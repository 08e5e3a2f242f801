package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/open-policy-agent/opa/v1/topdown"

	"github.com/tkingovr/aifirewall/api"
)

// RegoPackage is the package a content policy must declare.
const RegoPackage = "aifirewall"

// OPAEngine evaluates content against an embedded Rego policy.
type OPAEngine struct {
	mu   sync.RWMutex
	path string

	query rego.PreparedEvalQuery
}

// NewOPAEngine creates an engine from a .rego file.
func NewOPAEngine(path string) (*OPAEngine, error) {
	e := &OPAEngine{path: path}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewOPAEngineFromSource creates an engine from raw Rego source.
func NewOPAEngineFromSource(source string) (*OPAEngine, error) {
	e := &OPAEngine{}
	if err := e.loadSource(source); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate runs the policy over the content.
//
// The policy must live in package aifirewall and may define:
//
//	allowed: bool (missing means deny)
//	confidence: number in [0,1] (default 1)
//	reason: string
//	content: string, replaces the content when set
//
// Input available to the policy:
//
//	input.content: string
//	input.length: number of runes
func (e *OPAEngine) Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	in := map[string]any{
		"content": input.Content,
		"length":  len([]rune(input.Content)),
	}

	rs, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		if topdown.IsError(err) {
			return &EvalResult{
				Decision:   api.DecisionDeny,
				Rule:       "_opa_error",
				Message:    "policy evaluation error: " + err.Error(),
				Confidence: 1.0,
			}, nil
		}
		return nil, fmt.Errorf("OPA evaluation failed: %w", err)
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &EvalResult{
			Decision:   api.DecisionDeny,
			Rule:       "_opa_default",
			Message:    "policy returned no result",
			Confidence: 1.0,
		}, nil
	}

	out, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &EvalResult{
			Decision:   api.DecisionDeny,
			Rule:       "_opa_parse_error",
			Message:    "unexpected policy result type",
			Confidence: 1.0,
		}, nil
	}

	return parseOPAResult(out), nil
}

// Reload re-reads the Rego file from disk and recompiles.
func (e *OPAEngine) Reload(_ context.Context) error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("reading OPA policy file: %w", err)
	}
	return e.loadSource(string(data))
}

func (e *OPAEngine) loadSource(source string) error {
	mod, err := ast.ParseModuleWithOpts("policy.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("parsing Rego policy: %w", err)
	}
	if got := mod.Package.Path.String(); got != "data."+RegoPackage {
		return fmt.Errorf("policy must declare package %s, got %s", RegoPackage, got)
	}

	r := rego.New(
		rego.Query("data."+RegoPackage),
		rego.Module("policy.rego", source),
		rego.Store(inmem.New()),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("preparing OPA query: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.query = query
	return nil
}

func parseOPAResult(m map[string]any) *EvalResult {
	result := &EvalResult{
		Decision:   api.DecisionDeny,
		Rule:       RegoPackage,
		Confidence: 1.0,
	}

	if allowed, ok := m["allowed"].(bool); ok && allowed {
		result.Decision = api.DecisionAllow
	}
	if c, ok := toFloat(m["confidence"]); ok {
		result.Confidence = c
	}
	if r, ok := m["reason"].(string); ok {
		result.Message = r
	}
	if c, ok := m["content"].(string); ok {
		result.Content = &c
	}
	return result
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
