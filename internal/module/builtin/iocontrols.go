package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"

	"github.com/tkingovr/aifirewall/internal/module"
)

const (
	defaultMaxLength = 10000

	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
)

// DenyWhen is a CEL expression that denies the content when it evaluates to
// true. Expressions see content (string), length (runes) and lines (int).
type DenyWhen struct {
	Expr       string  `yaml:"expr"`
	Reason     string  `yaml:"reason"`
	Confidence float64 `yaml:"confidence"`
}

// InputOutputControlsSettings configures the inputOutputControls module.
type InputOutputControlsSettings struct {
	MaxLength  int        `yaml:"max_length"`
	AllowEmpty bool       `yaml:"allow_empty"`
	DenyWhen   []DenyWhen `yaml:"deny_when"`
	RateLimit  *RateLimit `yaml:"rate_limit"`
}

type compiledRule struct {
	DenyWhen
	prg cel.Program
}

// InputOutputControls enforces size limits, CEL content conditions and an
// optional per-client rate limit.
type InputOutputControls struct {
	maxLength  int
	allowEmpty bool
	rules      []compiledRule
	limiter    Limiter
}

// NewInputOutputControls builds the module from settings.
func NewInputOutputControls(s module.Settings, deps Deps) (*InputOutputControls, error) {
	cfg := InputOutputControlsSettings{MaxLength: defaultMaxLength}
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.MaxLength < 0 {
		return nil, fmt.Errorf("max_length must not be negative, got %d", cfg.MaxLength)
	}

	m := &InputOutputControls{
		maxLength:  cfg.MaxLength,
		allowEmpty: cfg.AllowEmpty,
	}

	if len(cfg.DenyWhen) > 0 {
		env, err := newContentEnv()
		if err != nil {
			return nil, err
		}
		for i, dw := range cfg.DenyWhen {
			prg, err := compileDenyWhen(env, dw.Expr)
			if err != nil {
				return nil, fmt.Errorf("deny_when[%d]: %w", i, err)
			}
			if dw.Confidence == 0 {
				dw.Confidence = 1.0
			}
			if dw.Confidence < 0 || dw.Confidence > 1 {
				return nil, fmt.Errorf("deny_when[%d]: confidence %v out of range [0,1]", i, dw.Confidence)
			}
			if dw.Reason == "" {
				dw.Reason = "matched " + dw.Expr
			}
			m.rules = append(m.rules, compiledRule{DenyWhen: dw, prg: prg})
		}
	}

	if rl := cfg.RateLimit; rl != nil {
		if rl.Max <= 0 || rl.Window <= 0 {
			return nil, errors.New("rate_limit needs a positive max and window")
		}
		if deps.Redis != nil {
			m.limiter = NewRedisLimiter(deps.Redis, *rl, "aifirewall:ratelimit:")
		} else {
			m.limiter = NewMemoryLimiter(*rl)
		}
	}

	return m, nil
}

func newContentEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("content", cel.StringType),
		cel.Variable("length", cel.IntType),
		cel.Variable("lines", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return env, nil
}

func compileDenyWhen(env *cel.Env, expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

func (m *InputOutputControls) Name() string { return NameInputOutputControls }

func (m *InputOutputControls) Process(ctx context.Context, content string) (module.Result, error) {
	length := utf8.RuneCountInString(content)

	if !m.allowEmpty && strings.TrimSpace(content) == "" {
		return module.Deny(1.0, "content is empty"), nil
	}
	if m.maxLength > 0 && length > m.maxLength {
		return module.Deny(1.0, fmt.Sprintf("content length %d exceeds limit %d", length, m.maxLength)), nil
	}

	if len(m.rules) > 0 {
		vars := map[string]any{
			"content": content,
			"length":  int64(length),
			"lines":   int64(strings.Count(content, "\n") + 1),
		}
		for _, r := range m.rules {
			out, _, err := r.prg.ContextEval(ctx, vars)
			if err != nil {
				return module.Result{}, fmt.Errorf("evaluating %q: %w", r.Expr, err)
			}
			hit, ok := out.Value().(bool)
			if !ok {
				return module.Result{}, fmt.Errorf("expression %q did not return a boolean, got %T", r.Expr, out.Value())
			}
			if hit {
				return module.Deny(r.Confidence, r.Reason), nil
			}
		}
	}

	if m.limiter != nil {
		key := "_global"
		if sub, ok := module.SubmissionFrom(ctx); ok && sub.ClientIP != "" {
			key = sub.ClientIP
		}
		ok, err := m.limiter.Allow(ctx, key)
		if err != nil {
			return module.Result{}, err
		}
		if !ok {
			return module.Deny(1.0, "rate limit exceeded"), nil
		}
	}

	return module.Allow(1.0), nil
}
