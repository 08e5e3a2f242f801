package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tkingovr/aifirewall/internal/config"
)

// Factory builds a module from its configured settings.
type Factory func(settings Settings) (Module, error)

// Registry maps module names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("registering module: empty name")
	}
	if f == nil {
		return fmt.Errorf("registering module %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("module %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve constructs the enabled modules in declaration order. Disabled
// entries are skipped without being looked up. Any enabled entry that is
// unknown, declared twice, or whose factory fails yields a
// *ConfigurationError and no modules.
func (r *Registry) Resolve(entries []config.ModuleConfig) ([]Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(entries))
	var modules []Module
	for _, entry := range entries {
		if _, dup := seen[entry.Name]; dup {
			return nil, &ConfigurationError{Module: entry.Name, Reason: "declared more than once"}
		}
		seen[entry.Name] = struct{}{}

		if !entry.Enabled {
			continue
		}

		factory, ok := r.factories[entry.Name]
		if !ok {
			return nil, &ConfigurationError{Module: entry.Name, Reason: "enabled but not registered"}
		}

		settings := entry.Settings
		m, err := factory(NewSettings(&settings))
		if err != nil {
			return nil, &ConfigurationError{Module: entry.Name, Reason: "invalid settings", Err: err}
		}
		if m == nil {
			return nil, &ConfigurationError{Module: entry.Name, Reason: "factory returned no module"}
		}
		modules = append(modules, m)
	}
	return modules, nil
}
