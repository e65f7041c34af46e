package openstack

import (
	"context"
	"errors"
	"testing"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/pkg/resource"
)

// mockAPI implements API for testing.
type mockAPI struct {
	CreateFunc           func(opts flavors.CreateOpts) (*flavors.Flavor, error)
	CreateExtraSpecsFunc func(id string, specs flavors.ExtraSpecsOpts) (map[string]string, error)
	ListAllFunc          func() ([]flavors.Flavor, error)
	DeleteFunc           func(id string) error
}

func (m *mockAPI) Create(opts flavors.CreateOpts) (*flavors.Flavor, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(opts)
	}
	return &flavors.Flavor{ID: "new", Name: opts.Name, Description: opts.Description}, nil
}

func (m *mockAPI) CreateExtraSpecs(id string, specs flavors.ExtraSpecsOpts) (map[string]string, error) {
	if m.CreateExtraSpecsFunc != nil {
		return m.CreateExtraSpecsFunc(id, specs)
	}
	return map[string]string(specs), nil
}

func (m *mockAPI) ListAll() ([]flavors.Flavor, error) {
	if m.ListAllFunc != nil {
		return m.ListAllFunc()
	}
	return nil, nil
}

func (m *mockAPI) Delete(id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(id)
	}
	return nil
}

func TestClient_ImplementsFlavorClient(t *testing.T) {
	var _ compute.FlavorClient = (*Client)(nil)
	assert.Equal(t, ResourceType, Provider().ResourceType)
	assert.Equal(t, "nova.flavors", New(&mockAPI{}).ResourceType())
}

func TestCreateFlavor_PassesAttributes(t *testing.T) {
	var got flavors.CreateOpts
	api := &mockAPI{CreateFunc: func(opts flavors.CreateOpts) (*flavors.Flavor, error) {
		got = opts
		return &flavors.Flavor{ID: "f-1", Name: opts.Name, RAM: opts.RAM, VCPUs: opts.VCPUs, Description: opts.Description}, nil
	}}

	f, err := New(api).CreateFlavor(context.Background(), compute.FlavorOpts{
		Name: "flavor_name", RAM: 2048, VCPUs: 3, Disk: 10, Ephemeral: 3, Swap: 5, Owner: "task-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "flavor_name", got.Name)
	assert.Equal(t, 2048, got.RAM)
	assert.Equal(t, 3, got.VCPUs)
	require.NotNil(t, got.Disk)
	assert.Equal(t, 10, *got.Disk)
	require.NotNil(t, got.Ephemeral)
	assert.Equal(t, 3, *got.Ephemeral)
	require.NotNil(t, got.Swap)
	assert.Equal(t, 5, *got.Swap)
	assert.Equal(t, "benchctx:owner=task-1", got.Description)

	assert.Equal(t, "f-1", f.ID())
	assert.Equal(t, "task-1", f.Owner())
}

func TestCreateFlavor_Conflict(t *testing.T) {
	api := &mockAPI{CreateFunc: func(flavors.CreateOpts) (*flavors.Flavor, error) {
		return nil, gophercloud.ErrDefault409{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: 409}}
	}}

	_, err := New(api).CreateFlavor(context.Background(), compute.FlavorOpts{Name: "x"})
	assert.ErrorIs(t, err, resource.ErrConflict)
}

func TestCreateFlavor_OtherErrorIsNotConflict(t *testing.T) {
	api := &mockAPI{CreateFunc: func(flavors.CreateOpts) (*flavors.Flavor, error) {
		return nil, gophercloud.ErrDefault403{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: 403}}
	}}

	_, err := New(api).CreateFlavor(context.Background(), compute.FlavorOpts{Name: "x"})
	require.Error(t, err)
	assert.False(t, resource.IsConflict(err))
}

func TestDeleteFlavor_NotFound(t *testing.T) {
	api := &mockAPI{DeleteFunc: func(string) error {
		return gophercloud.ErrDefault404{ErrUnexpectedResponseCode: gophercloud.ErrUnexpectedResponseCode{Actual: 404}}
	}}

	err := New(api).DeleteFlavor(context.Background(), "gone")
	assert.ErrorIs(t, err, resource.ErrNotFound)
}

func TestDeleteFlavor_UnexpectedCode(t *testing.T) {
	api := &mockAPI{DeleteFunc: func(string) error {
		return gophercloud.ErrUnexpectedResponseCode{Actual: 404}
	}}

	err := New(api).DeleteFlavor(context.Background(), "gone")
	assert.ErrorIs(t, err, resource.ErrNotFound)
}

func TestListFlavors_Owner(t *testing.T) {
	api := &mockAPI{ListAllFunc: func() ([]flavors.Flavor, error) {
		return []flavors.Flavor{
			{ID: "1", Name: "mine", Description: "benchctx:owner=T1"},
			{ID: "2", Name: "m1.small"},
			{ID: "3", Name: "other", Description: "created by hand"},
		}, nil
	}}

	listed, err := New(api).ListFlavors(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "T1", listed[0].Owner())
	assert.Empty(t, listed[1].Owner())
	assert.Empty(t, listed[2].Owner())
}

func TestListFlavors_Error(t *testing.T) {
	api := &mockAPI{ListAllFunc: func() ([]flavors.Flavor, error) {
		return nil, errors.New("connection refused")
	}}

	_, err := New(api).ListFlavors(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestSetKeysAndToMap(t *testing.T) {
	var gotID string
	var gotSpecs flavors.ExtraSpecsOpts
	api := &mockAPI{CreateExtraSpecsFunc: func(id string, specs flavors.ExtraSpecsOpts) (map[string]string, error) {
		gotID, gotSpecs = id, specs
		return map[string]string(specs), nil
	}}
	client := New(api)
	ctx := context.Background()

	f, err := client.CreateFlavor(ctx, compute.FlavorOpts{Name: "flavor_name", RAM: 2048})
	require.NoError(t, err)
	require.NoError(t, f.SetKeys(ctx, map[string]string{"key": "value"}))

	assert.Equal(t, "new", gotID)
	assert.Equal(t, flavors.ExtraSpecsOpts{"key": "value"}, gotSpecs)

	m := f.ToMap()
	assert.Equal(t, "new", m["id"])
	assert.Equal(t, "flavor_name", m["name"])
	assert.Equal(t, map[string]any{"key": "value"}, m["extra_specs"])
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	api := &mockAPI{DeleteFunc: func(string) error { called = true; return nil }}

	err := New(api).DeleteFlavor(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
