package flavors

import (
	"fmt"

	"github.com/yairfalse/benchctx/internal/runctx"
)

// Spec declares one flavor.
type Spec struct {
	Name       string            `yaml:"name" json:"name"`
	RAM        int               `yaml:"ram" json:"ram"` // MB
	VCPUs      int               `yaml:"vcpus" json:"vcpus"`
	Disk       int               `yaml:"disk" json:"disk"`           // GB
	Ephemeral  int               `yaml:"ephemeral" json:"ephemeral"` // GB
	Swap       int               `yaml:"swap" json:"swap"`           // MB
	ExtraSpecs map[string]string `yaml:"extra_specs,omitempty" json:"extra_specs,omitempty"`
}

// rawSpec distinguishes unset fields from zero.
type rawSpec struct {
	Name       string            `yaml:"name"`
	RAM        *int              `yaml:"ram"`
	VCPUs      *int              `yaml:"vcpus"`
	Disk       *int              `yaml:"disk"`
	Ephemeral  *int              `yaml:"ephemeral"`
	Swap       *int              `yaml:"swap"`
	ExtraSpecs map[string]string `yaml:"extra_specs"`
}

// DecodeSpecs decodes and defaults the declared flavors. It checks only that
// names are present and unique; attribute bounds are checked by Validate
// before Setup creates anything, so cleanup works from a name-only list.
func DecodeSpecs(section runctx.Section) ([]Spec, error) {
	var raw []rawSpec
	if err := section.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode flavors: %w", err)
	}

	specs := make([]Spec, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		s := r.spec()
		if s.Name == "" {
			return nil, fmt.Errorf("flavor #%d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("flavor #%d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		specs = append(specs, s)
	}
	return specs, nil
}

func (r rawSpec) spec() Spec {
	s := Spec{
		Name:       r.Name,
		VCPUs:      1,
		ExtraSpecs: r.ExtraSpecs,
	}
	if r.RAM != nil {
		s.RAM = *r.RAM
	}
	if r.VCPUs != nil {
		s.VCPUs = *r.VCPUs
	}
	if r.Disk != nil {
		s.Disk = *r.Disk
	}
	if r.Ephemeral != nil {
		s.Ephemeral = *r.Ephemeral
	}
	if r.Swap != nil {
		s.Swap = *r.Swap
	}
	return s
}

// Validate checks the attribute bounds needed to create the flavor.
func (s Spec) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("name is required")
	case s.RAM < 1:
		return fmt.Errorf("%s: ram is required and must be at least 1", s.Name)
	case s.VCPUs < 1:
		return fmt.Errorf("%s: vcpus must be at least 1", s.Name)
	case s.Disk < 0:
		return fmt.Errorf("%s: disk must not be negative", s.Name)
	case s.Ephemeral < 0:
		return fmt.Errorf("%s: ephemeral must not be negative", s.Name)
	case s.Swap < 0:
		return fmt.Errorf("%s: swap must not be negative", s.Name)
	}
	return nil
}
