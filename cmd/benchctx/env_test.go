package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/compute/memory"
	"github.com/yairfalse/benchctx/internal/config"
	"github.com/yairfalse/benchctx/internal/contexts/flavors"
	"github.com/yairfalse/benchctx/internal/policy"
	"github.com/yairfalse/benchctx/internal/store"
)

const memoryTask = `
task_id: run-1
admin:
  credential:
    provider: memory
contexts:
  flavors:
    - name: bench_small
      ram: 512
    - name: bench_large
      ram: 4096
      vcpus: 4
      extra_specs:
        hw:cpu_policy: dedicated
`

const denyLargePolicy = `package benchctx

import rego.v1

deny contains msg if {
	input.spec.ram > 2048
	msg := sprintf("%s: ram too large", [input.spec.name])
}
`

// freshCloud swaps in an empty memory cloud for the test.
func freshCloud(t *testing.T) *memory.Cloud {
	t.Helper()
	prev := memoryCloud
	memoryCloud = memory.NewCloud()
	compute.Register(memoryCloud.Provider())
	t.Cleanup(func() {
		memoryCloud = prev
		compute.Register(prev.Provider())
	})
	return memoryCloud
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := config.Default()
	c.State.Path = filepath.Join(dir, "state.db")
	c.Audit.Enabled = true
	c.Audit.Dir = filepath.Join(dir, "audit")
	return c
}

func writeTask(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return filepath.Join(dir, "task.yaml")
}

func openEnv(t *testing.T, c *config.Config, path, taskID string) *environment {
	t.Helper()
	env, err := newEnvironment(context.Background(), c, nil, path, taskID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func runState(t *testing.T, c *config.Config, taskID string) *store.RunState {
	t.Helper()
	s, err := store.Open(c.State.Path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	state, err := s.Get(taskID)
	require.NoError(t, err)
	return state
}

func TestEnvironment_SetupAndCleanup(t *testing.T) {
	cloud := freshCloud(t)
	c := testConfig(t)
	path := writeTask(t, map[string]string{"task.yaml": memoryTask})
	ctx := context.Background()

	env := openEnv(t, c, path, "")
	require.NoError(t, env.setup(ctx))
	assert.Equal(t, 2, cloud.Len())

	results, ok := env.rc.Results(flavors.Name)
	require.True(t, ok)
	assert.Contains(t, results, "bench_small")
	assert.Contains(t, results, "bench_large")
	assert.Equal(t, map[string]string{"hw:cpu_policy": "dedicated"}, results["bench_large"]["extra_specs"])

	require.NoError(t, env.Close())
	state := runState(t, c, "run-1")
	assert.Equal(t, store.PhaseSetup, state.Run.Phase)
	assert.Equal(t, "memory", state.Run.Provider)
	assert.Len(t, state.Results[flavors.Name], 2)

	env = openEnv(t, c, path, "")
	require.NoError(t, env.cleanup(ctx, time.Minute, true))
	assert.Equal(t, 0, cloud.Len())

	require.NoError(t, env.Close())
	assert.Equal(t, store.PhaseCleaned, runState(t, c, "run-1").Run.Phase)

	counts := map[audit.EntryType]int{}
	require.NoError(t, audit.Replay(c.Audit.Dir, time.Time{}, func(e *audit.Entry) error {
		counts[e.Type]++
		return nil
	}))
	assert.Equal(t, 2, counts[audit.EntryCreated])
	assert.Equal(t, 2, counts[audit.EntryDeleted])
}

func TestEnvironment_ForeignFlavorSurvives(t *testing.T) {
	cloud := freshCloud(t)
	_, err := cloud.Client().CreateFlavor(context.Background(), compute.FlavorOpts{
		Name: "bench_small", RAM: 512, VCPUs: 1, Owner: "someone-else",
	})
	require.NoError(t, err)

	c := testConfig(t)
	path := writeTask(t, map[string]string{"task.yaml": memoryTask})
	ctx := context.Background()

	env := openEnv(t, c, path, "")
	require.NoError(t, env.setup(ctx))
	assert.Equal(t, 2, cloud.Len())

	results, _ := env.rc.Results(flavors.Name)
	assert.NotContains(t, results, "bench_small")

	require.NoError(t, env.cleanup(ctx, time.Minute, false))
	assert.Equal(t, 1, cloud.Len())

	left, err := cloud.Client().ListFlavors(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "someone-else", left[0].Owner())
}

func TestEnvironment_CleanupWithTaskIDOverride(t *testing.T) {
	cloud := freshCloud(t)
	c := testConfig(t)
	task := `
admin:
  credential:
    provider: memory
contexts:
  flavors:
    - name: bench_small
      ram: 512
`
	path := writeTask(t, map[string]string{"task.yaml": task})
	ctx := context.Background()

	env := openEnv(t, c, path, "")
	require.NoError(t, env.setup(ctx))
	generated := env.task.TaskID
	require.NotEmpty(t, generated)
	require.NoError(t, env.Close())

	// Without the id, a second load generates a new owner and finds nothing.
	other := openEnv(t, c, path, "")
	require.NoError(t, other.cleanup(ctx, time.Minute, true))
	assert.Equal(t, 1, cloud.Len())
	require.NoError(t, other.Close())

	same := openEnv(t, c, path, generated)
	require.NoError(t, same.cleanup(ctx, time.Minute, true))
	assert.Equal(t, 0, cloud.Len())
}

func TestEnvironment_OverlappingRunsShareStatePath(t *testing.T) {
	cloud := freshCloud(t)
	c := testConfig(t)
	path := writeTask(t, map[string]string{"task.yaml": memoryTask})
	ctx := context.Background()

	first := openEnv(t, c, path, "run-a")
	second := openEnv(t, c, path, "run-b")

	require.NoError(t, first.setup(ctx))
	// The second run reaches the provider and sees the first run's names.
	require.NoError(t, second.setup(ctx))
	assert.Equal(t, 2, cloud.Len())

	// Status can read while both runs are still open.
	s, err := store.Open(c.State.Path)
	require.NoError(t, err)
	runs, err := s.List()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Len(t, runs, 2)

	require.NoError(t, second.cleanup(ctx, time.Minute, false))
	assert.Equal(t, 2, cloud.Len())
	require.NoError(t, first.cleanup(ctx, time.Minute, false))
	assert.Equal(t, 0, cloud.Len())

	assert.Equal(t, store.PhaseCleaned, runState(t, c, "run-a").Run.Phase)
	assert.Equal(t, store.PhaseCleaned, runState(t, c, "run-b").Run.Phase)
}

func TestEnvironment_PolicyDenies(t *testing.T) {
	cloud := freshCloud(t)
	c := testConfig(t)
	path := writeTask(t, map[string]string{
		"task.yaml":   memoryTask + "policy: limits.rego\n",
		"limits.rego": denyLargePolicy,
	})

	env := openEnv(t, c, path, "")
	err := env.setup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrDenied)
	assert.Contains(t, err.Error(), "bench_large: ram too large")
	assert.Equal(t, 0, cloud.Len())

	require.NoError(t, env.Close())
	state := runState(t, c, "run-1")
	assert.Equal(t, store.PhaseSetupFailed, state.Run.Phase)
	assert.NotEmpty(t, state.Run.Error)
}

func TestEnvironment_BadPolicyFile(t *testing.T) {
	freshCloud(t)
	c := testConfig(t)
	path := writeTask(t, map[string]string{
		"task.yaml":   memoryTask + "policy: limits.rego\n",
		"limits.rego": "package benchctx\n\ndeny contains",
	})

	_, err := newEnvironment(context.Background(), c, nil, path, "")
	assert.Error(t, err)
}

func TestEnvironment_UnknownContext(t *testing.T) {
	c := testConfig(t)
	path := writeTask(t, map[string]string{"task.yaml": `
admin:
  credential:
    provider: memory
contexts:
  volumes:
    - name: v1
`})

	_, err := newEnvironment(context.Background(), c, nil, path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown context "volumes"`)
}

func TestContextsCommand(t *testing.T) {
	freshCloud(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"contexts"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "flavors")
	assert.Contains(t, out.String(), "memory.flavors")
	assert.Contains(t, out.String(), "nova.flavors")
	assert.Contains(t, out.String(), "ec2.launch_templates")
}

func TestLoadConfig_Default(t *testing.T) {
	c, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, c.Run.CleanupTimeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchctx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nformat = \"xml\"\n"), 0644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
