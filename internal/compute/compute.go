// Package compute defines the flavor capability that resource contexts
// provision against. Provider adapters live in subpackages.
package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/benchctx/internal/runctx"
)

// FlavorOpts are the attributes passed on creation.
type FlavorOpts struct {
	Name      string
	RAM       int // MB
	VCPUs     int
	Disk      int // GB
	Ephemeral int // GB
	Swap      int // MB
	Owner     string
}

// Flavor is a created or listed provider-side flavor.
type Flavor interface {
	ID() string
	Name() string
	// Owner returns the ownership tag recorded at creation, or "".
	Owner() string
	// SetKeys applies metadata (extra specs) to the flavor.
	SetKeys(ctx context.Context, keys map[string]string) error
	// ToMap returns the normalized representation stored in the run context.
	ToMap() map[string]any
}

// FlavorClient is the capability a provider exposes for flavors.
//
// CreateFlavor returns an error wrapping resource.ErrConflict when the name
// is taken. DeleteFlavor returns an error wrapping resource.ErrNotFound when
// the flavor is gone.
type FlavorClient interface {
	ResourceType() string
	CreateFlavor(ctx context.Context, opts FlavorOpts) (Flavor, error)
	ListFlavors(ctx context.Context) ([]Flavor, error)
	DeleteFlavor(ctx context.Context, id string) error
}

// ClientFactory obtains a client for an admin credential.
type ClientFactory func(ctx context.Context, cred runctx.Credential) (FlavorClient, error)

// Provider describes one registered adapter.
type Provider struct {
	Name         string // matches Credential.Provider
	ResourceType string // cleanup identifier, e.g. "nova.flavors"
	New          ClientFactory
}

// Registry of available providers
var (
	registry = make(map[string]Provider)
	mu       sync.RWMutex
)

// Register adds a provider, replacing any with the same name.
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name] = p
}

// Lookup returns a provider by name.
func Lookup(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Providers returns all registered providers sorted by name.
func Providers() []Provider {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Provider, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clear removes all providers. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Provider)
}

// NewClient is a ClientFactory dispatching on cred.Provider.
func NewClient(ctx context.Context, cred runctx.Credential) (FlavorClient, error) {
	p, ok := Lookup(cred.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", cred.Provider)
	}
	return p.New(ctx, cred)
}

// ResourceTypeFor returns the cleanup identifier for a provider name.
func ResourceTypeFor(provider string) (string, error) {
	p, ok := Lookup(provider)
	if !ok {
		return "", fmt.Errorf("provider %q not registered", provider)
	}
	return p.ResourceType, nil
}
