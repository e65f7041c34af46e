// Package memory is an in-process flavor provider. Names are unique per
// Cloud, so it reproduces the conflict behavior of a real provider and is
// safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

const (
	// ProviderName is the credential provider value selecting this adapter.
	ProviderName = "memory"
	// ResourceType is the cleanup identifier for in-memory flavors.
	ResourceType = "memory.flavors"
)

type record struct {
	id         string
	name       string
	opts       compute.FlavorOpts
	extraSpecs map[string]string
	createdAt  time.Time
}

// Cloud is one simulated account.
type Cloud struct {
	mu     sync.Mutex
	byName *btree.BTreeG[*record]
	byID   map[string]*record
	seq    int
}

// NewCloud creates an empty account.
func NewCloud() *Cloud {
	return &Cloud{
		byName: btree.NewG[*record](16, func(a, b *record) bool {
			return a.name < b.name
		}),
		byID: make(map[string]*record),
	}
}

// Provider returns the registry entry for this cloud.
func (c *Cloud) Provider() compute.Provider {
	return compute.Provider{
		Name:         ProviderName,
		ResourceType: ResourceType,
		New:          c.Factory(),
	}
}

// Factory returns a ClientFactory bound to this cloud.
func (c *Cloud) Factory() compute.ClientFactory {
	return func(_ context.Context, _ runctx.Credential) (compute.FlavorClient, error) {
		return c.Client(), nil
	}
}

// Client returns a client for this cloud.
func (c *Cloud) Client() *Client {
	return &Client{cloud: c}
}

// Len returns the number of live flavors.
func (c *Cloud) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byName.Len()
}

// Client implements compute.FlavorClient.
type Client struct {
	cloud *Cloud
}

// ResourceType returns the cleanup identifier.
func (cl *Client) ResourceType() string {
	return ResourceType
}

// CreateFlavor creates a flavor or fails with resource.ErrConflict.
func (cl *Client) CreateFlavor(ctx context.Context, opts compute.FlavorOpts) (compute.Flavor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("create flavor: name is required")
	}

	c := cl.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName.Get(&record{name: opts.Name}); exists {
		return nil, fmt.Errorf("create flavor %q: %w", opts.Name, resource.ErrConflict)
	}

	c.seq++
	r := &record{
		id:        strconv.Itoa(c.seq),
		name:      opts.Name,
		opts:      opts,
		createdAt: time.Now().UTC(),
	}
	c.byName.ReplaceOrInsert(r)
	c.byID[r.id] = r

	return &flavor{cloud: c, rec: *r}, nil
}

// ListFlavors returns all flavors ordered by name.
func (cl *Client) ListFlavors(ctx context.Context) ([]compute.Flavor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := cl.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]compute.Flavor, 0, c.byName.Len())
	c.byName.Ascend(func(r *record) bool {
		out = append(out, &flavor{cloud: c, rec: r.copy()})
		return true
	})
	return out, nil
}

// DeleteFlavor removes a flavor or fails with resource.ErrNotFound.
func (cl *Client) DeleteFlavor(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := cl.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("delete flavor %s: %w", id, resource.ErrNotFound)
	}
	delete(c.byID, id)
	c.byName.Delete(r)
	return nil
}

func (r *record) copy() record {
	out := *r
	if r.extraSpecs != nil {
		out.extraSpecs = make(map[string]string, len(r.extraSpecs))
		for k, v := range r.extraSpecs {
			out.extraSpecs[k] = v
		}
	}
	return out
}

type flavor struct {
	cloud *Cloud
	rec   record
}

func (f *flavor) ID() string { return f.rec.id }
func (f *flavor) Name() string { return f.rec.name }
func (f *flavor) Owner() string { return f.rec.opts.Owner }

func (f *flavor) SetKeys(ctx context.Context, keys map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := f.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byID[f.rec.id]
	if !ok {
		return fmt.Errorf("set keys on flavor %s: %w", f.rec.id, resource.ErrNotFound)
	}
	if r.extraSpecs == nil {
		r.extraSpecs = make(map[string]string, len(keys))
	}
	for k, v := range keys {
		r.extraSpecs[k] = v
	}
	f.rec = r.copy()
	return nil
}

func (f *flavor) ToMap() map[string]any {
	m := map[string]any{
		"id":        f.rec.id,
		"name":      f.rec.name,
		"ram":       f.rec.opts.RAM,
		"vcpus":     f.rec.opts.VCPUs,
		"disk":      f.rec.opts.Disk,
		"ephemeral": f.rec.opts.Ephemeral,
		"swap":      f.rec.opts.Swap,
		"owner":     f.rec.opts.Owner,
	}
	if len(f.rec.extraSpecs) > 0 {
		specs := make(map[string]string, len(f.rec.extraSpecs))
		for k, v := range f.rec.extraSpecs {
			specs[k] = v
		}
		m["extra_specs"] = specs
	}
	return m
}
