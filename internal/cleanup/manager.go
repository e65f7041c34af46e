// Package cleanup removes resources owned by a run.
//
// Candidates are always re-derived from the live provider listing, so a run
// can clean up after a crashed predecessor as long as the ownership tag
// matches. Deletion is best-effort: every match is attempted.
package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/matcher"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

// Request scopes one cleanup call.
type Request struct {
	Names   []string // resource-type identifiers, e.g. "nova.flavors"
	Admin   runctx.Admin
	Matcher matcher.Matcher
	TaskID  string // owner tag
}

// Cleaner is what resource contexts call on teardown.
type Cleaner interface {
	Cleanup(ctx context.Context, req Request) *Report
}

// Metrics receives cleanup counters.
type Metrics interface {
	RecordDeleted(ctx context.Context, resourceType string)
	RecordCleanupFailure(ctx context.Context, resourceType string)
}

// Journal receives audit entries.
type Journal interface {
	Append(entryType audit.EntryType, ownerID, resourceID string, data interface{}, err error) error
}

// Manager implements Cleaner over a Registry.
type Manager struct {
	registry *Registry
	logger   zerolog.Logger
	tracer   trace.Tracer
	metrics  Metrics
	journal  Journal
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithJournal sets the audit journal.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// NewManager creates a cleanup manager.
func NewManager(registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		logger:   log.Logger,
		tracer:   otel.Tracer("github.com/yairfalse/benchctx/internal/cleanup"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cleanup deletes every resource of the requested types whose name matches
// and whose owner equals req.TaskID.
func (m *Manager) Cleanup(ctx context.Context, req Request) *Report {
	report := &Report{}

	if req.TaskID == "" {
		// Without an owner every run's resources would qualify.
		report.Failed = append(report.Failed, Failure{Err: fmt.Errorf("empty task id, refusing to clean up")})
		return report
	}

	for _, name := range req.Names {
		report.Merge(m.cleanupType(ctx, name, req))
	}
	return report
}

func (m *Manager) cleanupType(ctx context.Context, resourceType string, req Request) *Report {
	ctx, span := m.tracer.Start(ctx, "cleanup.type", trace.WithAttributes(
		attribute.String("resource.type", resourceType),
		attribute.String("task.id", req.TaskID),
	))
	defer span.End()

	report := &Report{}
	logger := m.logger.With().
		Ctx(ctx).
		Str("resource_type", resourceType).
		Str("owner_id", req.TaskID).
		Logger()

	fail := func(err error) *Report {
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("cleanup failed")
		m.recordFailure(ctx, resourceType)
		report.Failed = append(report.Failed, Failure{ResourceType: resourceType, Err: err})
		return report
	}

	factory, ok := m.registry.Lookup(resourceType)
	if !ok {
		return fail(fmt.Errorf("unknown resource type"))
	}

	lister, err := factory(ctx, req.Admin)
	if err != nil {
		return fail(fmt.Errorf("open client: %w", err))
	}

	candidates, err := lister.List(ctx)
	if err != nil {
		return fail(fmt.Errorf("list: %w", err))
	}

	matches := m.filter(candidates, req, report)
	resource.SortByName(matches)
	span.SetAttributes(attribute.Int("cleanup.matches", len(matches)))

	for _, r := range matches {
		m.delete(ctx, lister, resourceType, r, req.TaskID, report, logger)
	}

	logger.Info().
		Int("deleted", len(report.Deleted)).
		Int("vanished", len(report.Vanished)).
		Int("foreign", report.Foreign).
		Int("failed", len(report.Failed)).
		Msg("cleanup finished")

	return report
}

func (m *Manager) filter(candidates []resource.Resource, req Request, report *Report) []resource.Resource {
	var matches []resource.Resource
	for _, r := range candidates {
		if req.Matcher != nil && !req.Matcher.Match(r.Name) {
			continue
		}
		if !r.OwnedBy(req.TaskID) {
			report.Foreign++
			continue
		}
		matches = append(matches, r)
	}
	return matches
}

func (m *Manager) delete(ctx context.Context, lister Lister, resourceType string, r resource.Resource, owner string, report *Report, logger zerolog.Logger) {
	err := lister.Delete(ctx, r)
	switch {
	case err == nil:
		report.Deleted = append(report.Deleted, r)
		m.record(audit.EntryDeleted, owner, r, nil)
		if m.metrics != nil {
			m.metrics.RecordDeleted(ctx, resourceType)
		}
		logger.Debug().Str("id", r.ID).Str("name", r.Name).Msg("deleted resource")
	case resource.IsNotFound(err):
		report.Vanished = append(report.Vanished, r)
		m.record(audit.EntryVanished, owner, r, nil)
		logger.Debug().Str("id", r.ID).Str("name", r.Name).Msg("resource already gone")
	default:
		report.Failed = append(report.Failed, Failure{ResourceType: resourceType, Resource: &r, Err: err})
		m.record(audit.EntryDeleteFailed, owner, r, err)
		m.recordFailure(ctx, resourceType)
		logger.Warn().Err(err).Str("id", r.ID).Str("name", r.Name).Msg("failed to delete resource")
	}
}

func (m *Manager) recordFailure(ctx context.Context, resourceType string) {
	if m.metrics != nil {
		m.metrics.RecordCleanupFailure(ctx, resourceType)
	}
}

func (m *Manager) record(entryType audit.EntryType, owner string, r resource.Resource, err error) {
	if m.journal == nil {
		return
	}
	if jerr := m.journal.Append(entryType, owner, r.ID, r, err); jerr != nil {
		m.logger.Warn().Err(jerr).Str("id", r.ID).Msg("audit append failed")
	}
}
