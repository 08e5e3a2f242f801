package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tkingovr/aifirewall/api"
	"github.com/tkingovr/aifirewall/internal/module"
)

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req api.FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	sub := module.Submission{
		RequestID:  RequestIDFrom(r.Context()),
		Content:    req.Content,
		ClientIP:   clientIP(r),
		ReceivedAt: s.now(),
	}

	v := s.eval.Evaluate(r.Context(), sub)
	if s.recorder != nil {
		s.recorder.Record(sub, v)
	}
	if v.Err != nil {
		s.logger.Warn("module failure during evaluation",
			"request_id", sub.RequestID,
			"error", v.Err,
		)
	}

	writeJSON(w, http.StatusOK, api.FilterResponse{
		Allowed:     v.Allowed,
		Confidence:  v.Confidence,
		Reason:      v.Reason,
		Content:     v.Content,
		ProcessedBy: v.ProcessedBy,
		RequestID:   sub.RequestID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Modules:   s.modules,
	})
}

func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.store.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("querying audit log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query audit log")
		return
	}
	if entries == nil {
		entries = []*api.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading audit stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel := s.store.Subscribe(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	html := r.URL.Query().Get("format") == "html"
	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			var data string
			if html {
				data = renderEntryRow(entry)
			} else {
				b, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				data = string(b)
			}
			fmt.Fprintf(w, "event: audit\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
	}
}

func parseQueryFilter(r *http.Request) (api.QueryFilter, error) {
	q := r.URL.Query()
	f := api.QueryFilter{
		RequestID: q.Get("request_id"),
		Module:    q.Get("module"),
	}

	switch d := api.Decision(strings.ToLower(q.Get("decision"))); d {
	case "", api.DecisionAllow, api.DecisionDeny:
		f.Decision = d
	default:
		return f, fmt.Errorf("invalid decision %q", d)
	}

	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid %s %q", p.key, v)
		}
		*p.dst = n
	}

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q", p.key, v)
		}
		*p.dst = t
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}
