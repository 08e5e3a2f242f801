package api

import "time"

// QueryFilter defines criteria for querying audit log entries.
type QueryFilter struct {
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Module    string    `json:"module,omitempty"`
	Decision  Decision  `json:"decision,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Matches reports whether the entry satisfies every set criterion.
func (f QueryFilter) Matches(e *LogEntry) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Decision != "" && e.Decision() != f.Decision {
		return false
	}
	return true
}

// AuditStats provides summary statistics over recorded entries.
type AuditStats struct {
	TotalEntries int            `json:"total_entries"`
	AllowCount   int            `json:"allow_count"`
	DenyCount    int            `json:"deny_count"`
	ErrorCount   int            `json:"error_count"`
	ByModule     map[string]int `json:"by_module"`
	DenyByModule map[string]int `json:"deny_by_module"`
}

// NewAuditStats returns zeroed stats with initialized maps.
func NewAuditStats() *AuditStats {
	return &AuditStats{
		ByModule:     make(map[string]int),
		DenyByModule: make(map[string]int),
	}
}

// Add folds one entry into the stats.
func (s *AuditStats) Add(e *LogEntry) {
	s.TotalEntries++
	if e.Result.Allowed {
		s.AllowCount++
	} else {
		s.DenyCount++
		s.DenyByModule[e.Module]++
	}
	if e.Error != "" {
		s.ErrorCount++
	}
	s.ByModule[e.Module]++
}
