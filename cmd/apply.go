package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-intel/internal/proposal"
)

var applyCommit string

var applyCmd = &cobra.Command{
	Use:   "apply <id>...",
	Short: "Mark approved proposals applied at a dataset commit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyCommit == "" {
			return eris.New("--commit is required")
		}
		return withProposals(cmd, func(svc *proposal.Service) error {
			results := svc.MarkApplied(cmd.Context(), args, applyCommit)
			return reportApplied(cmd, results)
		})
	},
}

func reportApplied(cmd *cobra.Command, results []proposal.ApplyResult) error {
	failed := 0
	for _, r := range results {
		switch {
		case !r.OK:
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s\n", r.ID, r.Error)
		case r.Changed:
			fmt.Fprintf(cmd.OutOrStdout(), "OK    %s\n", r.ID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (already applied)\n", r.ID)
		}
	}
	if failed > 0 {
		return eris.Errorf("apply: %d of %d proposals failed", failed, len(results))
	}
	return nil
}

func init() {
	applyCmd.Flags().StringVar(&applyCommit, "commit", "", "dataset commit that contains the applied changes")
	rootCmd.AddCommand(applyCmd)
}
