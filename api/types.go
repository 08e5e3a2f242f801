package api

import "time"

// Decision is the allow/deny outcome of a module or of a whole request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// DecisionOf maps an allowed flag to its Decision.
func DecisionOf(allowed bool) Decision {
	if allowed {
		return DecisionAllow
	}
	return DecisionDeny
}

// ModuleResult is the serialized form of a single module's security result.
type ModuleResult struct {
	Allowed         bool    `json:"allowed"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason,omitempty"`
	ModifiedContent *string `json:"modified_content,omitempty"`
}

// LogEntry is one audit record: the result of one module for one request.
type LogEntry struct {
	ID              string       `json:"id"`
	Timestamp       time.Time    `json:"timestamp"`
	RequestID       string       `json:"request_id"`
	Module          string       `json:"module"`
	Result          ModuleResult `json:"result"`
	OriginalContent string       `json:"original_content"`
	ContentHash     string       `json:"content_hash,omitempty"`
	ClientIP        string       `json:"client_ip,omitempty"`
	Error           string       `json:"error,omitempty"`
	DurationMS      float64      `json:"duration_ms,omitempty"`
}

// Decision returns the entry's allow/deny decision.
func (e *LogEntry) Decision() Decision {
	return DecisionOf(e.Result.Allowed)
}

// FilterRequest is the body accepted by POST /filter and the check command.
type FilterRequest struct {
	Content string `json:"content"`
}

// FilterResponse is the verdict returned to callers of POST /filter.
type FilterResponse struct {
	Allowed     bool     `json:"allowed"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason,omitempty"`
	Content     string   `json:"content"`
	ProcessedBy []string `json:"processedBy"`
	RequestID   string   `json:"requestId,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Modules   map[string]bool `json:"modules"`
}

// ErrorResponse is the JSON body of a rejected HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}
