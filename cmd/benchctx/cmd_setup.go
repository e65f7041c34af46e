package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/benchctx/internal/contexts/flavors"
)

var setupTask, setupTaskID string

// setupCmd represents the setup command
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the resources declared in a task",
	Long: `Create every resource declared in the task file, in context order.

Names that already exist are skipped with a warning. Any other error
stops setup; resources already created stay until "benchctx cleanup".`,
	Example: `  benchctx setup -t task.yaml`,
	RunE:    runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVarP(&setupTask, "task", "t", "", "Path to task file")
	setupCmd.Flags().StringVar(&setupTaskID, "task-id", "", "Override the task id from the task file")
	_ = setupCmd.MarkFlagRequired("task")
}

func runSetup(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd.Context(), cfg, metrics, setupTask, setupTaskID)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	if err := env.setup(cmd.Context()); err != nil {
		return err
	}

	results, _ := env.rc.Results(flavors.Name)
	out, err := json.MarshalIndent(map[string]interface{}{
		"task_id":  env.task.TaskID,
		"owner_id": env.rc.Task.OwnerID(),
		"flavors":  results,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
