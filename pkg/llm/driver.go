package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Driver adapts one vendor API to the canonical contract.
type Driver interface {
	Name() string
	Chat(ctx context.Context, req Request, creds Credentials) (*Response, error)
}

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// DefaultRegistry returns a registry with every built-in driver.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewAnthropicDriver())
	r.Register(NewOpenAIDriver())
	r.Register(NewOllamaDriver())
	r.Register(NewCompatibleDriver())
	r.Register(NewGeminiDriver())
	return r
}

// Register adds or replaces a driver under its own name.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name()] = d
}

// Get returns the driver registered under name.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return d, nil
}

// Names lists registered drivers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
