package builtin

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/tkingovr/aifirewall/internal/module"
)

// SecretPattern is a named detector for a kind of secret or personal data.
type SecretPattern struct {
	Name  string
	Regex *regexp.Regexp

	// Validate, when set, must accept a match before it counts.
	Validate func(match string) bool
}

// DefaultSecretPatterns returns the built-in secret and PII detectors.
func DefaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		{Name: "private_key", Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----(?s:.*?)(?:-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----|$)`)},
		{Name: "aws_access_key", Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{Name: "github_token", Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,255}`)},
		{Name: "github_pat_fine", Regex: regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,255}`)},
		{Name: "slack_token", Regex: regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`)},
		{Name: "stripe_key", Regex: regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{20,100}`)},
		{Name: "google_api_key", Regex: regexp.MustCompile(`AIza[A-Za-z0-9\-_]{35}`)},
		{Name: "jwt_token", Regex: regexp.MustCompile(`eyJ[A-Za-z0-9-_]+\.eyJ[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+`)},
		{Name: "generic_api_key", Regex: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api_secret)['":\s]*[=:]\s*['"]?[A-Za-z0-9\-_]{20,60}['"]?`)},
		{Name: "generic_secret", Regex: regexp.MustCompile(`(?i)(?:secret|password|passwd|pwd|auth_token|access_token)['":\s]*[=:]\s*['"]?[A-Za-z0-9\-_!@#$%^&*]{8,100}['"]?`)},
		{Name: "credit_card", Regex: regexp.MustCompile(`\b[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}\b`), Validate: luhnValid},
		{Name: "ssn", Regex: regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)},
		{Name: "email", Regex: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	}
}

// Scan modes for contextProtection.
const (
	ModeRedact = "redact"
	ModeBlock  = "block"
)

// ContextProtectionSettings configures the contextProtection module.
type ContextProtectionSettings struct {
	Mode             string            `yaml:"mode"`
	EntropyThreshold float64           `yaml:"entropy_threshold"`
	MinTokenLength   int               `yaml:"min_token_length"`
	Patterns         map[string]string `yaml:"patterns"`
	DisableDefaults  bool              `yaml:"disable_defaults"`
	Confidence       float64           `yaml:"confidence"`
}

// ContextProtection finds secrets and personal data. In redact mode it
// rewrites each finding to [REDACTED:<kind>]; in block mode it denies.
type ContextProtection struct {
	mode             string
	patterns         []SecretPattern
	entropyThreshold float64
	minTokenLength   int
	confidence       float64
}

// NewContextProtection builds the module from settings.
func NewContextProtection(s module.Settings) (*ContextProtection, error) {
	cfg := ContextProtectionSettings{
		Mode:             ModeRedact,
		EntropyThreshold: 4.5,
		MinTokenLength:   20,
		Confidence:       0.9,
	}
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeRedact && cfg.Mode != ModeBlock {
		return nil, fmt.Errorf("mode must be %q or %q, got %q", ModeRedact, ModeBlock, cfg.Mode)
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		return nil, fmt.Errorf("confidence must be in (0,1], got %v", cfg.Confidence)
	}

	m := &ContextProtection{
		mode:             cfg.Mode,
		entropyThreshold: cfg.EntropyThreshold,
		minTokenLength:   cfg.MinTokenLength,
		confidence:       cfg.Confidence,
	}
	if !cfg.DisableDefaults {
		m.patterns = DefaultSecretPatterns()
	}
	names := make([]string, 0, len(cfg.Patterns))
	for name := range cfg.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		re, err := regexp.Compile(cfg.Patterns[name])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		m.patterns = append(m.patterns, SecretPattern{Name: name, Regex: re})
	}
	return m, nil
}

func (m *ContextProtection) Name() string { return NameContextProtection }

func (m *ContextProtection) Process(ctx context.Context, content string) (module.Result, error) {
	if m.mode == ModeBlock {
		if kind, found := m.detect(content); found {
			return module.Deny(m.confidence, "potential secret detected: "+kind), nil
		}
		return module.Allow(1.0), nil
	}

	redacted, kinds := m.redact(ctx, content)
	if err := ctx.Err(); err != nil {
		return module.Result{}, err
	}
	if len(kinds) == 0 {
		return module.Allow(1.0), nil
	}
	return module.Rewrite(1.0, redacted), nil
}

func (m *ContextProtection) detect(content string) (string, bool) {
	for _, p := range m.patterns {
		for _, match := range p.Regex.FindAllString(content, -1) {
			if p.Validate == nil || p.Validate(match) {
				return p.Name, true
			}
		}
	}
	if m.entropyThreshold > 0 {
		for _, tok := range tokens(content) {
			if len(tok) >= m.minTokenLength && shannonEntropy(tok) >= m.entropyThreshold {
				return "high_entropy", true
			}
		}
	}
	return "", false
}

func (m *ContextProtection) redact(ctx context.Context, content string) (string, []string) {
	var kinds []string
	for _, p := range m.patterns {
		if ctx.Err() != nil {
			return content, kinds
		}
		hit := false
		content = p.Regex.ReplaceAllStringFunc(content, func(match string) string {
			if p.Validate != nil && !p.Validate(match) {
				return match
			}
			hit = true
			return "[REDACTED:" + p.Name + "]"
		})
		if hit {
			kinds = append(kinds, p.Name)
		}
	}

	if m.entropyThreshold > 0 {
		hit := false
		for _, tok := range tokens(content) {
			if strings.HasPrefix(tok, "[REDACTED:") {
				continue
			}
			if len(tok) >= m.minTokenLength && shannonEntropy(tok) >= m.entropyThreshold {
				content = strings.ReplaceAll(content, tok, "[REDACTED:high_entropy]")
				hit = true
			}
		}
		if hit {
			kinds = append(kinds, "high_entropy")
		}
	}
	return content, kinds
}

// tokens splits text on whitespace, quotes and common separators.
func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '"', '\'', '`', ',', ';', '=', '(', ')', '{', '}', '<', '>':
			return true
		}
		return false
	})
}

// shannonEntropy returns the entropy of s in bits per character.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func luhnValid(match string) bool {
	var digits []int
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
