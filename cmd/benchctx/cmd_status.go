package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/benchctx/internal/audit"
	"github.com/yairfalse/benchctx/internal/store"
)

var statusAudit bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show recorded runs",
	Long: `Without arguments, list every recorded run. With a task id, show the
results that run recorded and, with --audit, its journal entries.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusAudit, "audit", false, "Include audit journal entries")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.State.Path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := s.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK ID\tOWNER\tPROVIDER\tPHASE\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.TaskID, r.OwnerID, r.Provider, r.Phase, r.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	state, err := s.Get(args[0])
	if err != nil {
		return err
	}

	doc := map[string]interface{}{
		"run":     state.Run,
		"results": state.Results,
	}
	if statusAudit && cfg.Audit.Enabled {
		var entries []*audit.Entry
		err := audit.Replay(cfg.Audit.Dir, time.Time{}, func(e *audit.Entry) error {
			if e.OwnerID == state.Run.OwnerID {
				entries = append(entries, e)
			}
			return nil
		})
		if err != nil {
			return err
		}
		doc["audit"] = entries
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
