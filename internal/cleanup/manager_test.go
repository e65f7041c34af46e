package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/matcher"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

// fakeLister is an in-memory Lister with injectable failures.
type fakeLister struct {
	mu        sync.Mutex
	resources map[string]resource.Resource
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func newFakeLister(resources ...resource.Resource) *fakeLister {
	l := &fakeLister{
		resources: make(map[string]resource.Resource),
		deleteErr: make(map[string]error),
	}
	for _, r := range resources {
		l.resources[r.ID] = r
	}
	return l
}

func (l *fakeLister) List(_ context.Context) ([]resource.Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	out := make([]resource.Resource, 0, len(l.resources))
	for _, r := range l.resources {
		out = append(out, r)
	}
	return out, nil
}

func (l *fakeLister) Delete(_ context.Context, r resource.Resource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.deleteErr[r.ID]; ok {
		return err
	}
	if _, ok := l.resources[r.ID]; !ok {
		return fmt.Errorf("delete %s: %w", r.ID, resource.ErrNotFound)
	}
	delete(l.resources, r.ID)
	l.deleted = append(l.deleted, r.ID)
	return nil
}

type recordingMetrics struct {
	deleted  int
	failures int
}

func (m *recordingMetrics) RecordDeleted(context.Context, string) { m.deleted++ }
func (m *recordingMetrics) RecordCleanupFailure(context.Context, string) { m.failures++ }

type recordingJournal struct {
	types []audit.EntryType
}

func (j *recordingJournal) Append(t audit.EntryType, _, _ string, _ interface{}, _ error) error {
	j.types = append(j.types, t)
	return nil
}

func newTestManager(lister Lister, opts ...Option) *Manager {
	registry := NewRegistry()
	registry.Register("nova.flavors", func(context.Context, runctx.Admin) (Lister, error) {
		return lister, nil
	})
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewManager(registry, opts...)
}

func request(name, task string) Request {
	return Request{
		Names:   []string{"nova.flavors"},
		Admin:   runctx.Admin{Credential: runctx.Credential{Provider: "openstack"}},
		Matcher: matcher.New(name),
		TaskID:  task,
	}
}

func TestCleanup_OnlyDeletesOwnedResources(t *testing.T) {
	lister := newFakeLister(
		resource.Resource{ID: "1", Name: "flavor_name", Owner: "T1"},
		resource.Resource{ID: "2", Name: "flavor_name", Owner: "T2"},
	)
	m := newTestManager(lister)

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	require.NoError(t, report.Err())
	assert.Equal(t, []string{"1"}, lister.deleted)
	assert.Equal(t, 1, report.Foreign)
	assert.Contains(t, lister.resources, "2")
}

func TestCleanup_OnlyDeletesMatchingNames(t *testing.T) {
	lister := newFakeLister(
		resource.Resource{ID: "1", Name: "flavor_name", Owner: "T1"},
		resource.Resource{ID: "2", Name: "other", Owner: "T1"},
	)
	m := newTestManager(lister)

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	require.NoError(t, report.Err())
	assert.Equal(t, []string{"1"}, lister.deleted)
	assert.Len(t, report.Deleted, 1)
}

func TestCleanup_TemplatedNames(t *testing.T) {
	lister := newFakeLister(
		resource.Resource{ID: "1", Name: "bench-T1-aaa", Owner: "T1"},
		resource.Resource{ID: "2", Name: "bench-T1-bbb", Owner: "T1"},
		resource.Resource{ID: "3", Name: "bench-T2-ccc", Owner: "T2"},
	)
	m := newTestManager(lister)

	report := m.Cleanup(context.Background(), request("bench-{owner}-{random}", "T1"))

	require.NoError(t, report.Err())
	assert.ElementsMatch(t, []string{"1", "2"}, lister.deleted)
	assert.Equal(t, 1, report.Foreign)
}

func TestCleanup_IsIdempotent(t *testing.T) {
	lister := newFakeLister(resource.Resource{ID: "1", Name: "flavor_name", Owner: "T1"})
	m := newTestManager(lister)

	first := m.Cleanup(context.Background(), request("flavor_name", "T1"))
	second := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	require.NoError(t, first.Err())
	require.NoError(t, second.Err())
	assert.Equal(t, 1, first.Removed())
	assert.Zero(t, second.Removed())
}

func TestCleanup_VanishedResourceCountsAsSuccess(t *testing.T) {
	lister := newFakeLister(resource.Resource{ID: "1", Name: "flavor_name", Owner: "T1"})
	lister.deleteErr["1"] = fmt.Errorf("delete 1: %w", resource.ErrNotFound)
	journal := &recordingJournal{}
	m := newTestManager(lister, WithJournal(journal))

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	require.NoError(t, report.Err())
	assert.Len(t, report.Vanished, 1)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, []audit.EntryType{audit.EntryVanished}, journal.types)
}

func TestCleanup_ContinuesAfterDeleteFailure(t *testing.T) {
	lister := newFakeLister(
		resource.Resource{ID: "1", Name: "flavor_name", Owner: "T1"},
		resource.Resource{ID: "2", Name: "flavor_name", Owner: "T1"},
		resource.Resource{ID: "3", Name: "flavor_name", Owner: "T1"},
	)
	boom := errors.New("forbidden")
	lister.deleteErr["2"] = boom
	metrics := &recordingMetrics{}
	m := newTestManager(lister, WithMetrics(metrics))

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	assert.ElementsMatch(t, []string{"1", "3"}, lister.deleted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "2", report.Failed[0].Resource.ID)
	assert.ErrorIs(t, report.Err(), boom)
	assert.Equal(t, 2, metrics.deleted)
	assert.Equal(t, 1, metrics.failures)
}

func TestCleanup_UnknownResourceType(t *testing.T) {
	m := newTestManager(newFakeLister())
	req := request("flavor_name", "T1")
	req.Names = []string{"glance.images", "nova.flavors"}

	report := m.Cleanup(context.Background(), req)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "glance.images", report.Failed[0].ResourceType)
	assert.Nil(t, report.Failed[0].Resource)
}

func TestCleanup_ListError(t *testing.T) {
	lister := newFakeLister()
	lister.listErr = errors.New("unauthorized")
	m := newTestManager(lister)

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	assert.ErrorContains(t, report.Err(), "unauthorized")
}

func TestCleanup_FactoryError(t *testing.T) {
	registry := NewRegistry()
	registry.Register("nova.flavors", func(context.Context, runctx.Admin) (Lister, error) {
		return nil, errors.New("bad credential")
	})
	m := NewManager(registry, WithLogger(zerolog.Nop()))

	report := m.Cleanup(context.Background(), request("flavor_name", "T1"))

	assert.ErrorContains(t, report.Err(), "bad credential")
}

func TestCleanup_EmptyTaskIDRefuses(t *testing.T) {
	lister := newFakeLister(resource.Resource{ID: "1", Name: "flavor_name"})
	m := newTestManager(lister)

	report := m.Cleanup(context.Background(), request("flavor_name", ""))

	assert.Error(t, report.Err())
	assert.Empty(t, lister.deleted)
}

func TestCleanup_NilMatcherMatchesAllOwned(t *testing.T) {
	lister := newFakeLister(
		resource.Resource{ID: "1", Name: "a", Owner: "T1"},
		resource.Resource{ID: "2", Name: "b", Owner: "T1"},
	)
	m := newTestManager(lister)
	req := request("", "T1")
	req.Matcher = nil

	report := m.Cleanup(context.Background(), req)

	require.NoError(t, report.Err())
	assert.Equal(t, []string{"1", "2"}, lister.deleted)
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	r.Register("nova.flavors", nil)
	r.Register("ec2.launch_templates", nil)

	assert.Equal(t, []string{"ec2.launch_templates", "nova.flavors"}, r.Types())
	_, ok := r.Lookup("glance.images")
	assert.False(t, ok)
}

func TestReport_MergeAndErr(t *testing.T) {
	var nilReport *Report
	assert.NoError(t, nilReport.Err())

	a := &Report{Deleted: []resource.Resource{{ID: "1"}}}
	b := &Report{Foreign: 2, Failed: []Failure{{ResourceType: "x", Err: errors.New("y")}}}
	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, 1, a.Removed())
	assert.Equal(t, 2, a.Foreign)
	assert.EqualError(t, a.Err(), "x: y")
}
