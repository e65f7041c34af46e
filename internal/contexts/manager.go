package contexts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/benchctx/internal/runctx"
)

// Manager drives the contexts configured for a run.
//
// Setup runs in ascending Order. Cleanup runs in reverse over every context
// whose Setup was attempted, including the one that failed.
type Manager struct {
	contexts  []Context
	attempted int
	metrics   Metrics
	logger    zerolog.Logger
}

// NewManager instantiates every context configured in rc.
func NewManager(rc *runctx.Context, deps Deps) (*Manager, error) {
	deps = deps.WithDefaults()

	var built []Context
	for _, name := range rc.ConfiguredContexts() {
		factory, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown context %q", name)
		}
		c, err := factory(rc, deps)
		if err != nil {
			return nil, fmt.Errorf("configure context %q: %w", name, err)
		}
		built = append(built, c)
	}

	return NewManagerFor(built, deps), nil
}

// NewManagerFor wraps already built contexts.
func NewManagerFor(built []Context, deps Deps) *Manager {
	deps = deps.WithDefaults()
	sorted := append([]Context(nil), built...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order() != sorted[j].Order() {
			return sorted[i].Order() < sorted[j].Order()
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &Manager{contexts: sorted, metrics: deps.Metrics, logger: *deps.Logger}
}

// Contexts returns the managed contexts in setup order.
func (m *Manager) Contexts() []Context {
	return append([]Context(nil), m.contexts...)
}

// Setup sets up each context in order and stops at the first error.
func (m *Manager) Setup(ctx context.Context) error {
	for _, c := range m.contexts {
		m.attempted++
		start := time.Now()
		m.logger.Info().Str("context", c.Name()).Msg("setting up context")

		err := c.Setup(ctx)
		m.metrics.RecordSetupDuration(ctx, c.Name(), time.Since(start))
		if err != nil {
			return fmt.Errorf("setup context %q: %w", c.Name(), err)
		}
	}
	return nil
}

// Cleanup cleans up attempted contexts in reverse order. All are tried;
// errors are joined.
func (m *Manager) Cleanup(ctx context.Context) error {
	var errs []error
	for i := m.attempted - 1; i >= 0; i-- {
		c := m.contexts[i]
		m.logger.Info().Str("context", c.Name()).Msg("cleaning up context")
		if err := c.Cleanup(ctx); err != nil {
			m.logger.Error().Err(err).Str("context", c.Name()).Msg("context cleanup failed")
			errs = append(errs, fmt.Errorf("cleanup context %q: %w", c.Name(), err))
		}
	}
	m.attempted = 0
	return errors.Join(errs...)
}

// CleanupAll cleans up every context in reverse order regardless of whether
// Setup ran in this process. Used to remove leftovers of a crashed run.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.attempted = len(m.contexts)
	return m.Cleanup(ctx)
}
