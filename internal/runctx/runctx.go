// Package runctx holds the shared state of one benchmark run.
//
// The orchestrator creates a Context and tears it down. Every context plugin
// receives the same pointer, may read anything from it, and writes only to
// its own results namespace.
package runctx

import (
	"sort"
	"sync"
)

// Credential is the opaque admin scope used to obtain provider clients.
type Credential struct {
	Provider    string `yaml:"provider" json:"provider"` // "openstack", "aws" or "memory"
	AuthURL     string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"-"`
	ProjectName string `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	DomainName  string `yaml:"domain_name,omitempty" json:"domain_name,omitempty"`
	Region      string `yaml:"region,omitempty" json:"region,omitempty"`
	Profile     string `yaml:"profile,omitempty" json:"profile,omitempty"`
}

// Admin is the privileged scope a run uses for provisioning and cleanup.
type Admin struct {
	Credential Credential `yaml:"credential" json:"credential"`
}

// Task identifies a run.
type Task struct {
	UUID  string
	Owner string
}

// OwnerID returns the ownership tag for resources created by this run.
// An explicit owner overrides the task UUID.
func (t Task) OwnerID() string {
	if t.Owner != "" {
		return t.Owner
	}
	return t.UUID
}

// Section is one context's raw configuration. yaml.Node satisfies it.
type Section interface {
	Decode(v interface{}) error
}

// SectionFunc adapts a function to Section.
type SectionFunc func(v interface{}) error

// Decode calls f(v).
func (f SectionFunc) Decode(v interface{}) error {
	return f(v)
}

// Results maps a declared name to the normalized provider representation.
type Results map[string]map[string]any

// Context is the shared run state.
type Context struct {
	Admin Admin
	Task  Task

	mu      sync.RWMutex
	config  map[string]Section
	results map[string]Results
}

// New creates an empty run context.
func New(admin Admin, task Task) *Context {
	return &Context{
		Admin:   admin,
		Task:    task,
		config:  make(map[string]Section),
		results: make(map[string]Results),
	}
}

// SetConfig stores the configuration section of a context plugin.
func (c *Context) SetConfig(name string, section Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config[name] = section
}

// Config returns the configuration section for a context plugin.
func (c *Context) Config(name string) (Section, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.config[name]
	return s, ok
}

// ConfiguredContexts returns the names of all configured sections, sorted.
func (c *Context) ConfiguredContexts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.config))
	for name := range c.config {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitResults resets a namespace to an empty mapping.
func (c *Context) InitResults(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[namespace] = make(Results)
}

// PutResult records one entry under namespace.
func (c *Context) PutResult(namespace, name string, value map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.results[namespace]
	if !ok {
		ns = make(Results)
		c.results[namespace] = ns
	}
	ns[name] = value
}

// Results returns a copy of a namespace. ok is false if it was never initialized.
func (c *Context) Results(namespace string) (Results, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.results[namespace]
	if !ok {
		return nil, false
	}
	return ns.clone(), true
}

// Snapshot returns a copy of every namespace.
func (c *Context) Snapshot() map[string]Results {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Results, len(c.results))
	for name, ns := range c.results {
		out[name] = ns.clone()
	}
	return out
}

func (r Results) clone() Results {
	out := make(Results, len(r))
	for name, value := range r {
		v := make(map[string]any, len(value))
		for k, x := range value {
			v[k] = x
		}
		out[name] = v
	}
	return out
}
