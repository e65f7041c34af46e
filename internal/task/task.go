// Package task loads the YAML file describing one benchmark run.
//
//	task_id: 6f1c...          # generated when empty
//	owner_id: team-a-nightly  # optional, overrides task_id as ownership tag
//	admin:
//	  credential:
//	    provider: openstack
//	    auth_url: https://keystone.example.com/v3
//	    username: admin
//	    password: secret
//	    project_name: admin
//	    domain_name: Default
//	    region: RegionOne
//	contexts:
//	  flavors:
//	    - name: flavor_name
//	      ram: 2048
//	policy: limits.rego
package task

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/benchctx/internal/runctx"
)

// File is the decoded task file.
type File struct {
	TaskID   string               `yaml:"task_id"`
	OwnerID  string               `yaml:"owner_id"`
	Admin    runctx.Admin         `yaml:"admin"`
	Contexts map[string]yaml.Node `yaml:"contexts"`
	Policy   string               `yaml:"policy"`

	dir string
}

// Load reads a task file. A missing task_id is generated.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes a task document.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}

	if f.TaskID == "" {
		f.TaskID = uuid.NewString()
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks required fields.
func (f *File) Validate() error {
	if f.Admin.Credential.Provider == "" {
		return fmt.Errorf("task: admin.credential.provider is required")
	}
	if len(f.Contexts) == 0 {
		return fmt.Errorf("task: at least one context is required")
	}
	return nil
}

// PolicyPath resolves the policy file relative to the task file.
func (f *File) PolicyPath() string {
	if f.Policy == "" || filepath.IsAbs(f.Policy) || f.dir == "" {
		return f.Policy
	}
	return filepath.Join(f.dir, f.Policy)
}

// RunContext builds the shared run state for this task.
func (f *File) RunContext() *runctx.Context {
	rc := runctx.New(f.Admin, runctx.Task{UUID: f.TaskID, Owner: f.OwnerID})
	for name := range f.Contexts {
		node := f.Contexts[name]
		rc.SetConfig(name, &node)
	}
	return rc
}
