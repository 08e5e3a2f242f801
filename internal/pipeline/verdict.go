package pipeline

import (
	"time"

	"github.com/tkingovr/aifirewall/internal/module"
)

// Outcome is what one module contributed to a verdict.
type Outcome struct {
	Module string

	// Result is the result used for aggregation. After a timeout or error it
	// is the fail-closed substitute, not anything the module returned.
	Result module.Result

	// Err is a *ModuleTimeoutError or *ModuleInternalError when the result was
	// substituted, nil otherwise.
	Err error

	Duration time.Duration

	// Input is the content the module was given.
	Input string

	// Skipped is set when the caller gave up before the module ran. The
	// outcome still counts as a fail-closed deny but the module is not
	// listed in ProcessedBy.
	Skipped bool
}

// Failed reports whether the result was substituted.
func (o *Outcome) Failed() bool { return o.Err != nil }

// Verdict is the combined decision for one submission.
type Verdict struct {
	Allowed    bool
	Confidence float64
	Reason     string

	// Content is the final content after any rewrites.
	Content string

	// ProcessedBy lists the modules that actually ran, in order.
	ProcessedBy []string
	Outcomes    []Outcome

	// Err is the first module failure, if any. The verdict is still valid.
	Err error

	// ShortCircuited is set when evaluation stopped at the first deny.
	ShortCircuited bool
}

// Decision returns "allow" or "deny".
func (v *Verdict) Decision() string {
	if v.Allowed {
		return "allow"
	}
	return "deny"
}
