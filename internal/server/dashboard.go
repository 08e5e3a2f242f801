package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/tkingovr/aifirewall/api"
)

const dashboardRows = 100

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}

	renderPage(w, "overview", map[string]any{
		"Page":    "overview",
		"Stats":   stats,
		"Modules": s.modules,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Query(r.Context(), api.QueryFilter{})
	if err != nil {
		http.Error(w, "failed to query audit log", http.StatusInternalServerError)
		return
	}
	if len(entries) > dashboardRows {
		entries = entries[len(entries)-dashboardRows:]
	}

	// Newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	renderPage(w, "audit", map[string]any{
		"Page":    "audit",
		"Entries": entries,
	})
}

func renderEntryRow(e *api.LogEntry) string {
	return fmt.Sprintf(
		`<tr class="border-b border-gray-700 hover:bg-gray-800"><td class="px-4 py-2 text-gray-400 text-xs">%s</td><td class="px-4 py-2 font-mono text-xs">%s</td><td class="px-4 py-2">%s</td><td class="px-4 py-2"><span class="px-2 py-1 rounded text-xs font-bold %s">%s</span></td><td class="px-4 py-2">%.2f</td><td class="px-4 py-2 text-gray-400 text-xs">%s</td></tr>`,
		e.Timestamp.Format(time.RFC3339),
		escapeHTML(e.RequestID),
		escapeHTML(e.Module),
		decisionColor(e.Decision()),
		strings.ToUpper(string(e.Decision())),
		e.Result.Confidence,
		escapeHTML(truncate(e.Result.Reason, 120)),
	)
}

func decisionColor(d api.Decision) string {
	if d == api.DecisionAllow {
		return "bg-green-900 text-green-300"
	}
	return "bg-red-900 text-red-300"
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func escapeHTML(s string) string {
	return template.HTMLEscapeString(s)
}

var pageTmpls = map[string]*template.Template{
	"overview": template.Must(template.New("overview").Parse(navHTML + overviewHTML)),
	"audit":    template.Must(template.New("audit").Parse(navHTML + auditHTML)),
}

func renderPage(w http.ResponseWriter, name string, data map[string]any) {
	tmpl, ok := pageTmpls[name]
	if !ok {
		http.Error(w, "unknown page: "+name, http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w) //nolint:errcheck
}

const navHTML = `{{define "nav"}}
<nav class="bg-gray-900 border-b border-gray-700 px-6 py-4">
    <div class="flex items-center justify-between max-w-7xl mx-auto">
        <div class="flex items-center space-x-2">
            <span class="text-xl font-bold text-white">AI Firewall</span>
            <span class="text-xs bg-gray-700 text-gray-300 px-2 py-1 rounded">Dashboard</span>
        </div>
        <div class="flex space-x-4">
            <a href="/dashboard" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "overview"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">Overview</a>
            <a href="/dashboard/audit" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "audit"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">Audit Log</a>
        </div>
    </div>
</nav>
{{end}}`

const headHTML = `<!DOCTYPE html>
<html lang="en" class="dark">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AI Firewall Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <script src="https://unpkg.com/htmx.org@2.0.4"></script>
    <script src="https://unpkg.com/htmx-ext-sse@2.2.2/sse.js"></script>
    <style>body { background-color: #0f172a; color: #e2e8f0; }</style>
</head>
<body class="min-h-screen">
{{template "nav" .}}
<main class="max-w-7xl mx-auto px-6 py-8">`

const footHTML = `</main>
</body>
</html>`

const overviewHTML = headHTML + `
<h1 class="text-2xl font-bold mb-6">Overview</h1>
<div class="grid grid-cols-1 md:grid-cols-4 gap-6 mb-8">
    <div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
        <div class="text-gray-400 text-sm mb-1">Module Results</div>
        <div class="text-3xl font-bold text-white">{{.Stats.TotalEntries}}</div>
    </div>
    <div class="bg-gray-900 border border-green-900 rounded-lg p-6">
        <div class="text-green-400 text-sm mb-1">Allowed</div>
        <div class="text-3xl font-bold text-green-300">{{.Stats.AllowCount}}</div>
    </div>
    <div class="bg-gray-900 border border-red-900 rounded-lg p-6">
        <div class="text-red-400 text-sm mb-1">Denied</div>
        <div class="text-3xl font-bold text-red-300">{{.Stats.DenyCount}}</div>
    </div>
    <div class="bg-gray-900 border border-yellow-900 rounded-lg p-6">
        <div class="text-yellow-400 text-sm mb-1">Timeouts / Errors</div>
        <div class="text-3xl font-bold text-yellow-300">{{.Stats.ErrorCount}}</div>
    </div>
</div>
<div class="grid grid-cols-1 md:grid-cols-2 gap-6">
    <div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
        <h2 class="text-lg font-bold mb-4">Modules</h2>
        {{range $name, $enabled := .Modules}}
        <div class="flex justify-between py-1 border-b border-gray-800">
            <span class="text-gray-300 font-mono text-sm">{{$name}}</span>
            <span class="{{if $enabled}}text-green-400{{else}}text-gray-500{{end}}">{{if $enabled}}enabled{{else}}disabled{{end}}</span>
        </div>
        {{else}}<p class="text-gray-500">No modules configured</p>{{end}}
    </div>
    <div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
        <h2 class="text-lg font-bold mb-4">Denies by Module</h2>
        {{range $name, $count := .Stats.DenyByModule}}
        <div class="flex justify-between py-1 border-b border-gray-800">
            <span class="text-gray-300 font-mono text-sm">{{$name}}</span>
            <span class="text-gray-400">{{$count}}</span>
        </div>
        {{else}}<p class="text-gray-500">No data yet</p>{{end}}
    </div>
</div>
` + footHTML

const auditHTML = headHTML + `
<div class="flex justify-between items-center mb-6">
    <h1 class="text-2xl font-bold">Audit Log</h1>
    <span class="text-sm text-gray-400">Live updates via SSE</span>
</div>
<div class="bg-gray-900 border border-gray-700 rounded-lg overflow-hidden">
    <table class="w-full text-sm text-left">
        <thead class="bg-gray-800 text-gray-400 uppercase text-xs">
            <tr>
                <th class="px-4 py-3">Time</th>
                <th class="px-4 py-3">Request</th>
                <th class="px-4 py-3">Module</th>
                <th class="px-4 py-3">Decision</th>
                <th class="px-4 py-3">Confidence</th>
                <th class="px-4 py-3">Reason</th>
            </tr>
        </thead>
        <tbody id="audit-table"
               hx-ext="sse"
               sse-connect="/api/v1/audit/stream?format=html"
               sse-swap="audit"
               hx-swap="afterbegin">
            {{range .Entries}}
            <tr class="border-b border-gray-700 hover:bg-gray-800">
                <td class="px-4 py-2 text-gray-400 text-xs">{{.Timestamp.Format "15:04:05"}}</td>
                <td class="px-4 py-2 font-mono text-xs">{{.RequestID}}</td>
                <td class="px-4 py-2">{{.Module}}</td>
                <td class="px-4 py-2">
                    {{if .Result.Allowed}}<span class="px-2 py-1 rounded text-xs font-bold bg-green-900 text-green-300">ALLOW</span>
                    {{else}}<span class="px-2 py-1 rounded text-xs font-bold bg-red-900 text-red-300">DENY</span>{{end}}
                </td>
                <td class="px-4 py-2">{{printf "%.2f" .Result.Confidence}}</td>
                <td class="px-4 py-2 text-gray-400 text-xs">{{.Result.Reason}}{{if .Error}} ({{.Error}}){{end}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
` + footHTML
