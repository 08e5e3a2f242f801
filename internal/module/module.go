// Package module defines the security module capability, its result type and
// the registry that turns configuration into an ordered module list.
package module

import (
	"context"
	"time"
)

// Module is a single content inspection step.
type Module interface {
	// Name returns the unique module name used in configuration and logs.
	Name() string

	// Process inspects content and returns a Result. Implementations must
	// return promptly once ctx is done.
	Process(ctx context.Context, content string) (Result, error)
}

// Result is one module's judgment of a piece of content.
type Result struct {
	Allowed    bool
	Confidence float64
	Reason     string

	// ModifiedContent, when non-nil, replaces the content seen by later
	// modules and returned to the caller.
	ModifiedContent *string
}

// Allow returns a passing result.
func Allow(confidence float64) Result {
	return Result{Allowed: true, Confidence: confidence}
}

// Deny returns a blocking result.
func Deny(confidence float64, reason string) Result {
	return Result{Confidence: confidence, Reason: reason}
}

// Rewrite returns a passing result that replaces the content.
func Rewrite(confidence float64, content string) Result {
	return Result{Allowed: true, Confidence: confidence, ModifiedContent: &content}
}

// Submission is one piece of content submitted for inspection.
type Submission struct {
	RequestID  string
	Content    string
	ClientIP   string
	ReceivedAt time.Time
}

type ctxKey int

const submissionKey ctxKey = iota

// WithSubmission attaches the submission being evaluated to ctx so modules
// that key on request metadata (client IP, request id) can read it.
func WithSubmission(ctx context.Context, sub Submission) context.Context {
	return context.WithValue(ctx, submissionKey, sub)
}

// SubmissionFrom returns the submission attached by WithSubmission.
func SubmissionFrom(ctx context.Context) (Submission, bool) {
	sub, ok := ctx.Value(submissionKey).(Submission)
	return sub, ok
}

// Func adapts a function into a Module.
type Func struct {
	ModuleName string
	Fn         func(ctx context.Context, content string) (Result, error)
}

func (f Func) Name() string { return f.ModuleName }

func (f Func) Process(ctx context.Context, content string) (Result, error) {
	return f.Fn(ctx, content)
}
