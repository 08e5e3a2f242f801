// Package builtin provides the security modules shipped with the firewall.
package builtin

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tkingovr/aifirewall/internal/module"
)

// Module names as they appear in the modules section of the config.
const (
	NameInputOutputControls = "inputOutputControls"
	NamePromptProtection    = "promptProtection"
	NameContextProtection   = "contextProtection"
	NameLogging             = "logging"
	NameRegoPolicy          = "regoPolicy"
	NameDenyList            = "denyList"
)

// Deps carries shared dependencies handed to module factories.
type Deps struct {
	Logger *slog.Logger

	// Redis, when set, backs rate limiting so limits hold across replicas.
	Redis redis.UniversalClient
}

// Register adds every built-in module to reg.
func Register(reg *module.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	factories := []struct {
		name string
		f    module.Factory
	}{
		{NameInputOutputControls, func(s module.Settings) (module.Module, error) { return NewInputOutputControls(s, deps) }},
		{NamePromptProtection, func(s module.Settings) (module.Module, error) { return NewPromptProtection(s) }},
		{NameContextProtection, func(s module.Settings) (module.Module, error) { return NewContextProtection(s) }},
		{NameLogging, func(s module.Settings) (module.Module, error) { return NewLogging(s, deps.Logger) }},
		{NameRegoPolicy, func(s module.Settings) (module.Module, error) { return NewRegoPolicy(s) }},
		{NameDenyList, func(s module.Settings) (module.Module, error) { return NewDenyList(s) }},
	}
	for _, f := range factories {
		if err := reg.Register(f.name, f.f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with all built-in modules registered.
func NewRegistry(deps Deps) *module.Registry {
	reg := module.NewRegistry()
	if err := Register(reg, deps); err != nil {
		panic(err)
	}
	return reg
}
