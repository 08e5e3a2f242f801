package policy

// DefaultInjectionRules returns the built-in prompt injection heuristics.
func DefaultInjectionRules() []Rule {
	return []Rule{
		{
			Name: "ignore-previous-instructions",
			Match: RuleMatch{
				Regex: `(?i)\b(ignore|disregard|forget)\b.{0,40}\b(previous|prior|above|earlier|all)\b.{0,20}\b(instructions?|prompts?|rules?|directions?)\b`,
			},
			Action:     "deny",
			Message:    "instruction override attempt",
			Confidence: 0.9,
		},
		{
			Name: "system-prompt-extraction",
			Match: RuleMatch{
				Regex: `(?i)\b(reveal|show|print|repeat|output)\b.{0,30}\b(system|hidden|initial)\s+(prompt|instructions?|message)\b`,
			},
			Action:     "deny",
			Message:    "system prompt extraction attempt",
			Confidence: 0.85,
		},
		{
			Name: "role-override",
			Match: RuleMatch{
				Contains: []string{
					"you are now dan",
					"developer mode enabled",
					"jailbreak mode",
					"act as an unrestricted",
				},
			},
			Action:     "deny",
			Message:    "role override attempt",
			Confidence: 0.8,
		},
		{
			Name: "fake-system-delimiter",
			Match: RuleMatch{
				Regex: `(?im)^\s*(\[/?(system|inst)\]|<\|?(system|im_start)\|?>|###\s*system\b)`,
			},
			Action:     "deny",
			Message:    "injected system delimiter",
			Confidence: 0.75,
		},
	}
}
