package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tkingovr/aifirewall/api"
)

// DefaultRuleConfidence is used for rules that do not set a confidence.
const DefaultRuleConfidence = 0.9

// RuleSet evaluates content rules in order. The first matching rule wins.
type RuleSet struct {
	mu   sync.RWMutex
	file *RuleFile
	path string

	regexCache map[string]*regexp.Regexp
}

// NewRuleSetFromFile loads a rule set from a YAML file.
func NewRuleSetFromFile(path string) (*RuleSet, error) {
	rs := &RuleSet{path: path}
	if err := rs.Reload(context.Background()); err != nil {
		return nil, err
	}
	return rs, nil
}

// NewRuleSet builds a rule set from rules already in memory.
func NewRuleSet(rules []Rule, defaultAction api.Decision) (*RuleSet, error) {
	rf := &RuleFile{Version: 1, Settings: RuleSettings{DefaultAction: defaultAction}, Rules: rules}
	if err := validate(rf); err != nil {
		return nil, err
	}
	rs := &RuleSet{file: rf}
	cache, err := compileRegexes(rf)
	if err != nil {
		return nil, err
	}
	rs.regexCache = cache
	return rs, nil
}

// Evaluate returns the first matching rule's decision, or the default.
func (rs *RuleSet) Evaluate(_ context.Context, input *EvalInput) (*EvalResult, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	lower := strings.ToLower(input.Content)
	length := utf8.RuneCountInString(input.Content)

	for i := range rs.file.Rules {
		rule := &rs.file.Rules[i]
		if !rs.matches(rule, input.Content, lower, length) {
			continue
		}
		conf := rule.Confidence
		if conf == 0 {
			conf = DefaultRuleConfidence
		}
		return &EvalResult{
			Decision:   api.Decision(rule.Action),
			Rule:       rule.Name,
			Message:    rule.Message,
			Confidence: conf,
		}, nil
	}

	return &EvalResult{
		Decision:   rs.file.Settings.DefaultAction,
		Rule:       "_default",
		Confidence: 1.0,
	}, nil
}

// Reload re-reads the rule file from disk. In-memory rule sets are unchanged.
func (rs *RuleSet) Reload(_ context.Context) error {
	if rs.path == "" {
		return nil
	}
	rf, err := LoadFile(rs.path)
	if err != nil {
		return err
	}
	cache, err := compileRegexes(rf)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.file = rf
	rs.regexCache = cache
	return nil
}

// Rules returns a copy of the loaded rules.
func (rs *RuleSet) Rules() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]Rule(nil), rs.file.Rules...)
}

func compileRegexes(rf *RuleFile) (map[string]*regexp.Regexp, error) {
	cache := make(map[string]*regexp.Regexp)
	for _, rule := range rf.Rules {
		if rule.Match.Regex == "" {
			continue
		}
		re, err := regexp.Compile(rule.Match.Regex)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		cache[rule.Name] = re
	}
	return cache, nil
}

func (rs *RuleSet) matches(rule *Rule, content, lower string, length int) bool {
	m := &rule.Match

	if m.MinLength > 0 && length < m.MinLength {
		return false
	}
	if m.MaxLength > 0 && length > m.MaxLength {
		return false
	}

	if len(m.Contains) > 0 {
		found := false
		for _, phrase := range m.Contains {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.Regex != "" {
		re, ok := rs.regexCache[rule.Name]
		if !ok || !re.MatchString(content) {
			return false
		}
	}

	return true
}
