package builtin

import (
	"context"
	"errors"
	"strings"

	"github.com/tkingovr/aifirewall/internal/module"
)

// DenyListSettings configures the denyList module.
type DenyListSettings struct {
	Phrases       []string `yaml:"phrases"`
	CaseSensitive bool     `yaml:"case_sensitive"`
	Confidence    float64  `yaml:"confidence"`
	Reason        string   `yaml:"reason"`
}

// DenyList blocks content containing any configured phrase.
type DenyList struct {
	phrases       []string
	caseSensitive bool
	confidence    float64
	reason        string
}

// NewDenyList builds the module from settings.
func NewDenyList(s module.Settings) (*DenyList, error) {
	cfg := DenyListSettings{Confidence: 1.0, Reason: "banned phrase"}
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		return nil, errors.New("confidence must be in (0,1]")
	}

	m := &DenyList{caseSensitive: cfg.CaseSensitive, confidence: cfg.Confidence, reason: cfg.Reason}
	for _, p := range cfg.Phrases {
		if p == "" {
			continue
		}
		if !m.caseSensitive {
			p = strings.ToLower(p)
		}
		m.phrases = append(m.phrases, p)
	}
	if len(m.phrases) == 0 {
		return nil, errors.New("phrases must contain at least one entry")
	}
	return m, nil
}

func (m *DenyList) Name() string { return NameDenyList }

func (m *DenyList) Process(_ context.Context, content string) (module.Result, error) {
	if !m.caseSensitive {
		content = strings.ToLower(content)
	}
	for _, p := range m.phrases {
		if strings.Contains(content, p) {
			return module.Deny(m.confidence, m.reason), nil
		}
	}
	return module.Allow(1.0), nil
}
