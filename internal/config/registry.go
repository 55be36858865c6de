package config

import (
	"fmt"
	"sync"

	"github.com/mkoutras/banterbox/pkg/provider/s2s"
)

// S2SFactory builds a speech-to-speech provider from its config entry.
type S2SFactory func(entry ProviderEntry) (s2s.Provider, error)

// ErrProviderNotRegistered is returned by [Registry.CreateS2S] when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = fmt.Errorf("config: provider not registered")

// Registry maps provider names from the config file to factory functions.
// The main package registers the built-in backends at startup; additional
// backends can be registered before the config is applied.
type Registry struct {
	mu  sync.RWMutex
	s2s map[string]S2SFactory
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{s2s: make(map[string]S2SFactory)}
}

// RegisterS2S registers factory under name, replacing any previous entry.
func (r *Registry) RegisterS2S(name string, factory S2SFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// CreateS2S instantiates the provider named by entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
