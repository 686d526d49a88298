// Package providers wires vendor adapters to transports, resolves model IDs
// and runs unary and streaming chat calls.
package providers

import (
	"sort"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// Factory maps vendor types to adapter constructors. It is populated
// explicitly at startup.
type Factory struct {
	builders map[string]Registration
}

// NewFactory creates a factory with the given registrations.
func NewFactory(regs ...Registration) *Factory {
	f := &Factory{builders: make(map[string]Registration, len(regs))}
	f.Add(regs...)
	return f
}

// Add registers adapters. A later registration for the same type wins.
func (f *Factory) Add(regs ...Registration) {
	for _, reg := range regs {
		f.builders[reg.Type] = reg
	}
}

// Create instantiates the adapter for cfg.Type.
func (f *Factory) Create(cfg config.ProviderConfig) (Adapter, error) {
	reg, ok := f.builders[cfg.Type]
	if !ok {
		return nil, core.NewUnknownProviderError(cfg.Type)
	}
	return reg.New(cfg)
}

// Types returns the registered vendor types, sorted.
func (f *Factory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
