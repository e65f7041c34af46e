package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/benchctx/internal/config"
	"github.com/yairfalse/benchctx/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	// set by the persistent pre-run
	cfg     *config.Config
	metrics *telemetry.Provider

	rootCmd = &cobra.Command{
		Use:   "benchctx",
		Short: "Benchmark resource contexts",
		Long: `benchctx - Benchmark resource contexts

benchctx creates the ephemeral cloud resources a benchmark run needs
(compute flavors) and removes them afterwards. Creation tolerates names
that already exist; cleanup removes only resources tagged with the
run's owner id, so concurrent runs can share one account.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  initRoot,
		PersistentPostRunE: shutdownRoot,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`benchctx {{.Version}}
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initRoot(cmd *cobra.Command, _ []string) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err := telemetry.NewLogger(cfg.Log, debug, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	log.Logger = logger

	metrics, err = telemetry.NewProvider(cmd.Context(), cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	return nil
}

func shutdownRoot(cmd *cobra.Command, _ []string) error {
	if metrics == nil {
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err := metrics.Shutdown(ctx)
	metrics = nil
	return err
}

func loadConfig(path string) (*config.Config, error) {
	var c *config.Config
	if path == "" {
		c = config.Default()
	} else {
		var err error
		if c, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
