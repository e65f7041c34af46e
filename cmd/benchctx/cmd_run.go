package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	runTask        string
	runTaskID      string
	runDuration    time.Duration
	runMetricsAddr string
)

// errDurationElapsed ends the run group once the benchmark window is over.
var errDurationElapsed = errors.New("duration elapsed")

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Set up, hold for the benchmark, then clean up",
	Long: `Set up the task's contexts, keep them until the duration elapses or
the process is interrupted, then clean up.

Cleanup runs even when setup fails, for every context whose setup was
attempted.`,
	Example: `  benchctx run -t task.yaml --duration 30m
  benchctx run -t task.yaml --metrics :9090`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "Path to task file")
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Override the task id from the task file")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "How long to hold resources (0 waits for a signal)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	_ = runCmd.MarkFlagRequired("task")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := newEnvironment(ctx, cfg, metrics, runTask, runTaskID)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	setupErr := env.setup(ctx)
	if setupErr == nil {
		if err := hold(ctx, runDuration, metricsAddr()); err != nil {
			log.Info().Str("reason", err.Error()).Msg("benchmark window closed")
		}
	} else {
		log.Error().Err(setupErr).Msg("setup failed, cleaning up")
	}

	// A fresh context so an interrupt does not cancel cleanup.
	cleanupErr := env.cleanup(context.WithoutCancel(ctx), cfg.Run.CleanupTimeout, false)
	return errors.Join(setupErr, cleanupErr)
}

func metricsAddr() string {
	if runMetricsAddr != "" {
		return runMetricsAddr
	}
	return cfg.Run.MetricsAddr
}

// hold blocks until the duration elapses, a signal arrives or ctx ends.
// The returned error names what ended the window.
func hold(ctx context.Context, d time.Duration, addr string) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if d > 0 {
		timer := time.NewTimer(d)
		done := make(chan struct{})
		g.Add(func() error {
			select {
			case <-timer.C:
				return errDurationElapsed
			case <-done:
				return nil
			}
		}, func(error) {
			timer.Stop()
			close(done)
		})
	}

	if addr != "" && metrics != nil && metrics.Handler() != nil {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Add(func() error {
			log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	return g.Run()
}
