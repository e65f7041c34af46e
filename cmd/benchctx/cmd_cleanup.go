package main

import (
	"github.com/spf13/cobra"
)

var cleanupTask, cleanupTaskID string

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the resources a task owns",
	Long: `Delete every resource whose name matches a declaration in the task
and whose ownership tag equals the task's owner id.

Candidates come from the live provider listing, so cleanup also removes
leftovers of a run that crashed before it could clean up.`,
	Example: `  benchctx cleanup -t task.yaml`,
	RunE:    runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVarP(&cleanupTask, "task", "t", "", "Path to task file")
	cleanupCmd.Flags().StringVar(&cleanupTaskID, "task-id", "", "Override the task id from the task file")
	_ = cleanupCmd.MarkFlagRequired("task")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd.Context(), cfg, metrics, cleanupTask, cleanupTaskID)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	return env.cleanup(cmd.Context(), cfg.Run.CleanupTimeout, true)
}
