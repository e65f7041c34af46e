package cleanup

import (
	"context"
	"sort"
	"sync"

	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

// Lister enumerates and deletes resources of one type under an admin scope.
type Lister interface {
	List(ctx context.Context) ([]resource.Resource, error)
	Delete(ctx context.Context, r resource.Resource) error
}

// ListerFactory opens a Lister for the given admin scope.
type ListerFactory func(ctx context.Context, admin runctx.Admin) (Lister, error)

// Registry maps resource-type identifiers (e.g., "nova.flavors") to listers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ListerFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ListerFactory)}
}

// Register adds or replaces the factory for a resource type.
func (r *Registry) Register(resourceType string, factory ListerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[resourceType] = factory
}

// Lookup returns the factory for a resource type.
func (r *Registry) Lookup(resourceType string) (ListerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[resourceType]
	return f, ok
}

// Types returns all registered resource types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
