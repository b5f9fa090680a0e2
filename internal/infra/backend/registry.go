package backend

import (
	"fmt"
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// Registry is the process-wide BackendFactory table of spec.md §9: "global
// registries for backend creators" are represented as an explicit table
// built at engine construction and torn down at engine destruction, rather
// than populated by package-level init() / static-initialization order.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.BackendType]domain.BackendFactory
}

// NewRegistry returns an empty Registry. Callers register factories
// explicitly; band does not auto-populate one with the reference backend
// so tests can run with a controlled, minimal factory set.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.BackendType]domain.BackendFactory)}
}

// Register adds f, failing if its BackendType is already registered.
func (r *Registry) Register(f domain.BackendFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[f.Type()]; dup {
		return fmt.Errorf("backend: %w: factory for backend type %d already registered", domain.ErrConfiguration, f.Type())
	}
	r.factories[f.Type()] = f
	return nil
}

// Get returns the factory registered for t, if any.
func (r *Registry) Get(t domain.BackendType) (domain.BackendFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[t]
	return f, ok
}

// Teardown clears every registered factory. Called from Engine.Close so a
// process can construct and destroy more than one Engine without leaking
// factory state across them.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[domain.BackendType]domain.BackendFactory)
}
