package pipeline

import (
	"strings"
)

// Aggregate combines module outcomes into a single verdict. Any deny wins,
// confidence is the minimum, and content is the last rewrite.
func Aggregate(original string, outcomes []Outcome) *Verdict {
	v := &Verdict{
		Allowed:     true,
		Confidence:  1.0,
		Content:     original,
		ProcessedBy: make([]string, 0, len(outcomes)),
		Outcomes:    outcomes,
	}

	var reasons []string
	for i := range outcomes {
		o := &outcomes[i]
		if !o.Skipped {
			v.ProcessedBy = append(v.ProcessedBy, o.Module)
		}

		if i == 0 || o.Result.Confidence < v.Confidence {
			v.Confidence = o.Result.Confidence
		}
		if !o.Result.Allowed {
			v.Allowed = false
			if o.Result.Reason != "" {
				reasons = append(reasons, o.Module+": "+o.Result.Reason)
			}
		}
		if o.Result.ModifiedContent != nil {
			v.Content = *o.Result.ModifiedContent
		}
		if o.Err != nil && v.Err == nil {
			v.Err = o.Err
		}
	}

	v.Reason = strings.Join(reasons, "; ")
	return v
}
