package provider

import (
	"fmt"
	"sync"

	"github.com/terrapin-dev/terrapin/pkg/plugin"
	"github.com/terrapin-dev/terrapin/providers/aws"
	"github.com/terrapin-dev/terrapin/providers/docker"
	"github.com/terrapin-dev/terrapin/providers/null"
)

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]plugin.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]plugin.Provider),
	}
}

// LoadProvider initializes and registers a built-in provider. Loading the
// same provider twice is a no-op.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p plugin.Provider
	switch name {
	case "null":
		p = null.New()
	case "docker":
		p = docker.New()
	case "aws":
		p = aws.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Register installs a provider instance directly. Used by tests to inject
// fakes.
func (r *Registry) Register(name string, p plugin.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (plugin.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
