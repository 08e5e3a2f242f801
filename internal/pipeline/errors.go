package pipeline

import (
	"fmt"
	"time"
)

// Reasons recorded for modules whose result was replaced by a fail-closed deny.
const (
	ReasonTimeout = "module timeout"
	ReasonError   = "module error"
)

// ModuleTimeoutError reports a module that did not answer within its time
// budget, or was never run because the request was cancelled.
type ModuleTimeoutError struct {
	Module  string
	Timeout time.Duration
	Err     error
}

func (e *ModuleTimeoutError) Error() string {
	return fmt.Sprintf("module %q timed out after %s: %v", e.Module, e.Timeout, e.Err)
}

func (e *ModuleTimeoutError) Unwrap() error { return e.Err }

// ModuleInternalError reports a module that returned an error, panicked or
// produced an unusable result.
type ModuleInternalError struct {
	Module string
	Err    error
}

func (e *ModuleInternalError) Error() string {
	return fmt.Sprintf("module %q failed: %v", e.Module, e.Err)
}

func (e *ModuleInternalError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking module.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
