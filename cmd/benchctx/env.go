package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/cleanup"
	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/compute/aws"
	"github.com/yairfalse/benchctx/internal/compute/memory"
	"github.com/yairfalse/benchctx/internal/compute/openstack"
	"github.com/yairfalse/benchctx/internal/config"
	"github.com/yairfalse/benchctx/internal/contexts"
	_ "github.com/yairfalse/benchctx/internal/contexts/flavors"
	"github.com/yairfalse/benchctx/internal/policy"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/internal/store"
	"github.com/yairfalse/benchctx/internal/task"
	"github.com/yairfalse/benchctx/internal/telemetry"
)

// memoryCloud backs the "memory" provider for the life of the process.
var memoryCloud = memory.NewCloud()

func init() {
	compute.Register(openstack.Provider())
	compute.Register(aws.Provider())
	compute.Register(memoryCloud.Provider())
}

// environment is everything one command needs to drive a task.
type environment struct {
	task    *task.File
	rc      *runctx.Context
	manager *contexts.Manager
	journal *audit.Journal

	// The state store is opened per save so concurrent runs and status
	// readers never wait on a held lock.
	statePath string
}

// newEnvironment loads the task and opens everything it needs. A non-empty
// taskID replaces the task file's id, so a later cleanup can target a run
// whose id was generated.
func newEnvironment(ctx context.Context, c *config.Config, provider *telemetry.Provider, taskPath, taskID string) (*environment, error) {
	f, err := task.Load(taskPath)
	if err != nil {
		return nil, err
	}
	if taskID != "" {
		f.TaskID = taskID
	}

	env := &environment{task: f, rc: f.RunContext(), statePath: c.State.Path}
	if err := env.open(ctx, c, provider); err != nil {
		_ = env.Close()
		return nil, err
	}
	return env, nil
}

func (e *environment) open(ctx context.Context, c *config.Config, provider *telemetry.Provider) error {
	registry := cleanup.NewRegistry()
	compute.RegisterCleanup(registry)

	var err error

	cleanupOpts := []cleanup.Option{cleanup.WithLogger(log.Logger)}
	deps := contexts.Deps{}

	if provider != nil {
		cleanupOpts = append(cleanupOpts, cleanup.WithMetrics(provider))
		deps.Metrics = provider
	}

	if c.Audit.Enabled {
		if removed, err := audit.Prune(c.Audit.Dir, c.Audit.Retention); err != nil {
			log.Warn().Err(err).Msg("audit prune failed")
		} else if removed > 0 {
			log.Debug().Int("removed", removed).Msg("pruned audit journals")
		}

		if e.journal, err = audit.Open(c.Audit.Dir); err != nil {
			return err
		}
		cleanupOpts = append(cleanupOpts, cleanup.WithJournal(e.journal))
		deps.Journal = e.journal
	}

	if path := e.task.PolicyPath(); path != "" {
		engine, err := policy.LoadFile(ctx, path)
		if err != nil {
			return err
		}
		deps.Policy = engine
	}

	deps.Cleaner = cleanup.NewManager(registry, cleanupOpts...)

	e.manager, err = contexts.NewManager(e.rc, deps)
	return err
}

// Close releases the journal.
func (e *environment) Close() error {
	if e.journal == nil {
		return nil
	}
	err := e.journal.Close()
	e.journal = nil
	return err
}

func (e *environment) save(r store.Run, results map[string]runctx.Results) error {
	s, err := store.Open(e.statePath)
	if err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	if err := s.Save(r, results); err != nil {
		_ = s.Close()
		return fmt.Errorf("save run state: %w", err)
	}
	return s.Close()
}

func (e *environment) run() store.Run {
	return store.Run{
		TaskID:   e.task.TaskID,
		OwnerID:  e.rc.Task.OwnerID(),
		Provider: e.rc.Admin.Credential.Provider,
	}
}

// setup sets up all contexts and records the outcome.
func (e *environment) setup(ctx context.Context) error {
	log.Info().
		Str("task_id", e.task.TaskID).
		Str("owner_id", e.rc.Task.OwnerID()).
		Msg("setting up run")

	setupErr := e.manager.Setup(ctx)

	r := e.run()
	r.Phase = store.PhaseSetup
	if setupErr != nil {
		r.Phase = store.PhaseSetupFailed
		r.Error = setupErr.Error()
	}
	if err := e.save(r, e.rc.Snapshot()); err != nil {
		return errors.Join(setupErr, err)
	}
	return setupErr
}

// cleanup removes the run's resources. With all set, every configured
// context is cleaned even if setup did not run in this process.
func (e *environment) cleanup(ctx context.Context, timeout time.Duration, all bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().
		Str("task_id", e.task.TaskID).
		Str("owner_id", e.rc.Task.OwnerID()).
		Msg("cleaning up run")

	var cleanupErr error
	if all {
		cleanupErr = e.manager.CleanupAll(ctx)
	} else {
		cleanupErr = e.manager.Cleanup(ctx)
	}

	r := e.run()
	r.Phase = store.PhaseCleaned
	if cleanupErr != nil {
		r.Phase = store.PhaseCleanFailed
		r.Error = cleanupErr.Error()
	}
	if err := e.save(r, nil); err != nil {
		return errors.Join(cleanupErr, err)
	}
	return cleanupErr
}
