// Package resource defines the provider-neutral resource model for benchctx.
package resource

import (
	"sort"
)

// Resource is a live provider-side object as seen by cleanup.
type Resource struct {
	ID       string `json:"id"`       // Provider-assigned identifier
	Type     string `json:"type"`     // Resource type identifier (e.g., "nova.flavors")
	Provider string `json:"provider"` // Cloud provider (e.g., "openstack", "aws")
	Region   string `json:"region"`
	Name     string `json:"name"`
	Owner    string `json:"owner"` // Ownership tag of the run that created it
}

// OwnedBy reports whether the resource carries the given ownership tag.
// An empty tag never owns anything.
func (r Resource) OwnedBy(owner string) bool {
	return owner != "" && r.Owner == owner
}

// SortByName orders resources by name, then ID.
func SortByName(resources []Resource) {
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].Name != resources[j].Name {
			return resources[i].Name < resources[j].Name
		}
		return resources[i].ID < resources[j].ID
	})
}
