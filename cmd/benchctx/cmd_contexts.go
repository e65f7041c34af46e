package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/contexts"
)

// contextsCmd represents the contexts command
var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List available contexts and providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTEXTS")
		for _, name := range contexts.Names() {
			fmt.Fprintf(w, "  %s\n", name)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PROVIDER\tRESOURCE TYPE")
		for _, p := range compute.Providers() {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.ResourceType)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(contextsCmd)
}
