package module

import "fmt"

// ConfigurationError reports a module configuration that cannot be turned
// into a pipeline. It is fatal at startup.
type ConfigurationError struct {
	Module string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module %q: %s: %v", e.Module, e.Reason, e.Err)
	}
	return fmt.Sprintf("module %q: %s", e.Module, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
