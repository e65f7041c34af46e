package compute

import (
	"context"

	"github.com/yairfalse/benchctx/internal/cleanup"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

// ListerFactory adapts a ClientFactory to the cleanup registry.
func ListerFactory(newClient ClientFactory) cleanup.ListerFactory {
	return func(ctx context.Context, admin runctx.Admin) (cleanup.Lister, error) {
		client, err := newClient(ctx, admin.Credential)
		if err != nil {
			return nil, err
		}
		return &flavorLister{client: client, provider: admin.Credential.Provider, region: admin.Credential.Region}, nil
	}
}

// RegisterCleanup registers every compute provider with a cleanup registry.
func RegisterCleanup(r *cleanup.Registry) {
	for _, p := range Providers() {
		r.Register(p.ResourceType, ListerFactory(p.New))
	}
}

type flavorLister struct {
	client   FlavorClient
	provider string
	region   string
}

func (l *flavorLister) List(ctx context.Context) ([]resource.Resource, error) {
	flavors, err := l.client.ListFlavors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]resource.Resource, 0, len(flavors))
	for _, f := range flavors {
		out = append(out, resource.Resource{
			ID:       f.ID(),
			Type:     l.client.ResourceType(),
			Provider: l.provider,
			Region:   l.region,
			Name:     f.Name(),
			Owner:    f.Owner(),
		})
	}
	return out, nil
}

func (l *flavorLister) Delete(ctx context.Context, r resource.Resource) error {
	return l.client.DeleteFlavor(ctx, r.ID)
}
