package policy

import "context"

// Engine is the interface for content policy backends.
type Engine interface {
	// Evaluate checks content against loaded policies.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads policies from their source file, if any.
	Reload(ctx context.Context) error
}
