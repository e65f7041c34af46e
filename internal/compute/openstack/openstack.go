// Package openstack implements the flavor capability on Nova via gophercloud.
package openstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"

	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

const (
	// ProviderName is the credential provider value selecting this adapter.
	ProviderName = "openstack"
	// ResourceType is the cleanup identifier for Nova flavors.
	ResourceType = "nova.flavors"

	// flavor descriptions need compute API 2.55
	microversion = "2.55"
	ownerPrefix  = "benchctx:owner="
)

// API is the subset of Nova flavor operations the adapter uses.
type API interface {
	Create(opts flavors.CreateOpts) (*flavors.Flavor, error)
	CreateExtraSpecs(id string, specs flavors.ExtraSpecsOpts) (map[string]string, error)
	ListAll() ([]flavors.Flavor, error)
	Delete(id string) error
}

// Provider returns the registry entry for Nova.
func Provider() compute.Provider {
	return compute.Provider{
		Name:         ProviderName,
		ResourceType: ResourceType,
		New:          NewClient,
	}
}

// NewClient authenticates against Keystone and returns a compute client.
func NewClient(_ context.Context, cred runctx.Credential) (compute.FlavorClient, error) {
	provider, err := openstack.AuthenticatedClient(gophercloud.AuthOptions{
		IdentityEndpoint: cred.AuthURL,
		Username:         cred.Username,
		Password:         cred.Password,
		TenantName:       cred.ProjectName,
		DomainName:       cred.DomainName,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	sc, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{Region: cred.Region})
	if err != nil {
		return nil, fmt.Errorf("compute client: %w", err)
	}
	sc.Microversion = microversion

	return New(&serviceAPI{client: sc}), nil
}

// New wraps an API. Tests pass a fake.
func New(api API) *Client {
	return &Client{api: api}
}

// Client implements compute.FlavorClient for Nova.
type Client struct {
	api API
}

// ResourceType returns the cleanup identifier.
func (c *Client) ResourceType() string {
	return ResourceType
}

// CreateFlavor creates a private-by-default flavor tagged with its owner.
func (c *Client) CreateFlavor(ctx context.Context, opts compute.FlavorOpts) (compute.Flavor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	disk, swap, ephemeral := opts.Disk, opts.Swap, opts.Ephemeral
	created, err := c.api.Create(flavors.CreateOpts{
		Name:        opts.Name,
		RAM:         opts.RAM,
		VCPUs:       opts.VCPUs,
		Disk:        &disk,
		Swap:        &swap,
		Ephemeral:   &ephemeral,
		Description: ownerDescription(opts.Owner),
	})
	if err != nil {
		return nil, fmt.Errorf("create flavor %q: %w", opts.Name, translate(err))
	}
	return &flavor{api: c.api, f: *created}, nil
}

// ListFlavors lists public and private flavors visible to the admin.
func (c *Client) ListFlavors(ctx context.Context) ([]compute.Flavor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := c.api.ListAll()
	if err != nil {
		return nil, fmt.Errorf("list flavors: %w", translate(err))
	}
	out := make([]compute.Flavor, 0, len(all))
	for _, f := range all {
		out = append(out, &flavor{api: c.api, f: f})
	}
	return out, nil
}

// DeleteFlavor deletes a flavor by ID.
func (c *Client) DeleteFlavor(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.api.Delete(id); err != nil {
		return fmt.Errorf("delete flavor %s: %w", id, translate(err))
	}
	return nil
}

type flavor struct {
	api API
	f   flavors.Flavor
}

func (f *flavor) ID() string { return f.f.ID }

func (f *flavor) Name() string { return f.f.Name }

func (f *flavor) Owner() string {
	owner, ok := strings.CutPrefix(f.f.Description, ownerPrefix)
	if !ok {
		return ""
	}
	return owner
}

func (f *flavor) SetKeys(ctx context.Context, keys map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	specs, err := f.api.CreateExtraSpecs(f.f.ID, flavors.ExtraSpecsOpts(keys))
	if err != nil {
		return fmt.Errorf("set extra specs on flavor %s: %w", f.f.ID, translate(err))
	}
	f.f.ExtraSpecs = specs
	return nil
}

func (f *flavor) ToMap() map[string]any {
	data, err := json.Marshal(f.f)
	if err != nil {
		return map[string]any{"id": f.f.ID, "name": f.f.Name}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"id": f.f.ID, "name": f.f.Name}
	}
	return out
}

func ownerDescription(owner string) string {
	if owner == "" {
		return ""
	}
	return ownerPrefix + owner
}

// translate maps Nova status codes onto the resource error taxonomy.
func translate(err error) error {
	switch statusCode(err) {
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", resource.ErrConflict, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", resource.ErrNotFound, err)
	default:
		return err
	}
}

func statusCode(err error) int {
	var conflict gophercloud.ErrDefault409
	if errors.As(err, &conflict) {
		return http.StatusConflict
	}
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		return unexpected.Actual
	}
	return 0
}

// serviceAPI calls Nova through gophercloud.
type serviceAPI struct {
	client *gophercloud.ServiceClient
}

func (s *serviceAPI) Create(opts flavors.CreateOpts) (*flavors.Flavor, error) {
	return flavors.Create(s.client, opts).Extract()
}

func (s *serviceAPI) CreateExtraSpecs(id string, specs flavors.ExtraSpecsOpts) (map[string]string, error) {
	return flavors.CreateExtraSpecs(s.client, id, specs).Extract()
}

func (s *serviceAPI) ListAll() ([]flavors.Flavor, error) {
	pages, err := flavors.ListDetail(s.client, flavors.ListOpts{AccessType: flavors.AllAccess}).AllPages()
	if err != nil {
		return nil, err
	}
	return flavors.ExtractFlavors(pages)
}

func (s *serviceAPI) Delete(id string) error {
	return flavors.Delete(s.client, id).ExtractErr()
}
