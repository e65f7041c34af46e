// Package contexts defines the resource context plugin interface.
//
// A context provisions one category of ephemeral resources before a
// benchmark run and removes them afterwards.
package contexts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/benchctx/internal/cleanup"
	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/matcher"
	"github.com/yairfalse/benchctx/internal/runctx"
)

// Context is the interface all resource contexts implement.
type Context interface {
	// Name is the configuration key and results namespace, e.g. "flavors".
	Name() string

	// Order positions the context among others. Lower sets up first and
	// cleans up last.
	Order() int

	// Setup provisions resources and records them in the run context.
	Setup(ctx context.Context) error

	// Cleanup removes resources owned by the run. It must be safe to call
	// even if Setup never ran or failed part way.
	Cleanup(ctx context.Context) error
}

// Admitter vets a declared spec before anything is created.
type Admitter interface {
	Admit(ctx context.Context, contextName, ownerID string, spec interface{}) error
}

// Metrics receives setup counters.
type Metrics interface {
	RecordCreated(ctx context.Context, resourceType string)
	RecordConflict(ctx context.Context, resourceType string)
	RecordSetupDuration(ctx context.Context, contextName string, d time.Duration)
}

// Deps are the collaborators injected into every context.
type Deps struct {
	NewClient  compute.ClientFactory
	Cleaner    cleanup.Cleaner
	NewMatcher matcher.Factory
	Policy     Admitter        // optional
	Metrics    Metrics         // optional
	Journal    cleanup.Journal // optional
	Logger     *zerolog.Logger // defaults to log.Logger
}

// WithDefaults fills unset collaborators.
func (d Deps) WithDefaults() Deps {
	if d.NewClient == nil {
		d.NewClient = compute.NewClient
	}
	if d.NewMatcher == nil {
		d.NewMatcher = matcher.New
	}
	if d.Policy == nil {
		d.Policy = allowAll{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = &log.Logger
	}
	return d
}

type allowAll struct{}

func (allowAll) Admit(context.Context, string, string, interface{}) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordCreated(context.Context, string) {}
func (nopMetrics) RecordConflict(context.Context, string) {}
func (nopMetrics) RecordSetupDuration(context.Context, string, time.Duration) {}

// Factory builds a context from the run state.
type Factory func(rc *runctx.Context, deps Deps) (Context, error)

// Registry holds registered context factories.
var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a factory under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Get returns a factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns all registered context names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all factories. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}
