// Package flavors provisions compute flavors for a benchmark run.
//
// Setup creates every declared flavor and records it under the "flavors"
// results namespace. A name that is already taken is skipped, since another
// run or a leftover owns it. Cleanup removes flavors carrying this run's
// owner id whose names match a declaration, whether or not Setup ran in
// this process.
package flavors

import (
	"context"
	"errors"
	"fmt"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/cleanup"
	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/contexts"
	"github.com/yairfalse/benchctx/internal/matcher"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

const (
	// Name is the configuration key and results namespace.
	Name = "flavors"

	order = 340
)

func init() {
	contexts.Register(Name, func(rc *runctx.Context, deps contexts.Deps) (contexts.Context, error) {
		return New(rc, deps)
	})
}

// Context is the flavors resource context.
type Context struct {
	rc    *runctx.Context
	specs []Spec

	newClient    compute.ClientFactory
	cleaner      cleanup.Cleaner
	newMatcher   matcher.Factory
	resourceType func(provider string) (string, error)
	policy       contexts.Admitter
	metrics      contexts.Metrics
	journal      cleanup.Journal
	logger       zerolog.Logger
	tracer       trace.Tracer
	random       func() string
}

// New decodes the "flavors" section of rc and returns the context.
func New(rc *runctx.Context, deps contexts.Deps) (*Context, error) {
	deps = deps.WithDefaults()
	if deps.Cleaner == nil {
		return nil, fmt.Errorf("flavors: cleanup manager is required")
	}

	var specs []Spec
	if section, ok := rc.Config(Name); ok {
		var err error
		if specs, err = DecodeSpecs(section); err != nil {
			return nil, err
		}
	}

	return &Context{
		rc:           rc,
		specs:        specs,
		newClient:    deps.NewClient,
		cleaner:      deps.Cleaner,
		newMatcher:   deps.NewMatcher,
		resourceType: compute.ResourceTypeFor,
		policy:       deps.Policy,
		metrics:      deps.Metrics,
		journal:      deps.Journal,
		logger:       deps.Logger.With().Str("context", Name).Logger(),
		tracer:       otel.Tracer("github.com/yairfalse/benchctx/internal/contexts/flavors"),
		random:       shortuuid.New,
	}, nil
}

// Name returns the context name.
func (c *Context) Name() string { return Name }

// Order returns the setup position.
func (c *Context) Order() int { return order }

// Specs returns the declared flavors.
func (c *Context) Specs() []Spec {
	return append([]Spec(nil), c.specs...)
}

// Setup creates the declared flavors in order.
func (c *Context) Setup(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "flavors.Setup", trace.WithAttributes(
		attribute.Int("flavors.declared", len(c.specs)),
	))
	defer span.End()

	c.rc.InitResults(Name)
	owner := c.rc.Task.OwnerID()

	for _, s := range c.specs {
		if err := s.Validate(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("invalid flavor: %w", err)
		}
	}

	client, err := c.newClient(ctx, c.rc.Admin.Credential)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create compute client: %w", err)
	}

	for _, s := range c.specs {
		if err := c.policy.Admit(ctx, Name, owner, s); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("admit flavor %q: %w", s.Name, err)
		}
	}

	for _, s := range c.specs {
		if err := c.create(ctx, client, s, owner); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (c *Context) create(ctx context.Context, client compute.FlavorClient, s Spec, owner string) error {
	name := s.Name
	if matcher.IsTemplate(name) {
		name = matcher.Render(name, owner, c.random())
	}
	logger := c.logger.With().Ctx(ctx).Str("flavor", name).Str("owner_id", owner).Logger()

	f, err := client.CreateFlavor(ctx, compute.FlavorOpts{
		Name:      name,
		RAM:       s.RAM,
		VCPUs:     s.VCPUs,
		Disk:      s.Disk,
		Ephemeral: s.Ephemeral,
		Swap:      s.Swap,
		Owner:     owner,
	})
	if errors.Is(err, resource.ErrConflict) {
		logger.Warn().Err(err).Msg("using existing flavor")
		c.metrics.RecordConflict(ctx, client.ResourceType())
		c.record(audit.EntryConflict, owner, "", s, nil)
		return nil
	}
	if err != nil {
		c.record(audit.EntrySetupFailed, owner, "", s, err)
		return fmt.Errorf("create flavor %q: %w", name, err)
	}
	c.metrics.RecordCreated(ctx, client.ResourceType())

	if len(s.ExtraSpecs) > 0 {
		if err := f.SetKeys(ctx, s.ExtraSpecs); err != nil {
			c.record(audit.EntrySetupFailed, owner, f.ID(), s, err)
			return fmt.Errorf("set extra specs on flavor %q: %w", name, err)
		}
	}

	result := f.ToMap()
	c.rc.PutResult(Name, s.Name, result)
	c.record(audit.EntryCreated, owner, f.ID(), result, nil)
	logger.Info().Str("id", f.ID()).Msg("created flavor")
	return nil
}

// Cleanup asks the cleanup manager to remove this run's flavors, once per
// declared name. It does not consult the setup results.
func (c *Context) Cleanup(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "flavors.Cleanup")
	defer span.End()

	resourceType, err := c.resourceType(c.rc.Admin.Credential.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolve resource type: %w", err)
	}

	owner := c.rc.Task.OwnerID()
	var errs []error
	for _, s := range c.specs {
		report := c.cleaner.Cleanup(ctx, cleanup.Request{
			Names:   []string{resourceType},
			Admin:   c.rc.Admin,
			Matcher: c.newMatcher(s.Name),
			TaskID:  owner,
		})
		if err := report.Err(); err != nil {
			errs = append(errs, fmt.Errorf("clean up flavor %q: %w", s.Name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Context) record(entryType audit.EntryType, owner, id string, data interface{}, err error) {
	if c.journal == nil {
		return
	}
	if jerr := c.journal.Append(entryType, owner, id, data, err); jerr != nil {
		c.logger.Warn().Err(jerr).Msg("audit append failed")
	}
}
