package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-intel/internal/proposal"
)

var patchJSON bool

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Render approved proposals into a Markdown patch artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("patch"); err != nil {
			return err
		}
		return withProposals(cmd, func(svc *proposal.Service) error {
			res, err := svc.GeneratePatch(cmd.Context())
			if err != nil {
				return err
			}
			if patchJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if res.PatchPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No approved proposals; nothing written.")
				return nil
			}
			warnings := 0
			for _, in := range res.Instructions {
				warnings += len(in.Warnings)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d proposals, %d warnings)\n", res.PatchPath, len(res.Proposals), warnings)
			return nil
		})
	},
}

func init() {
	patchCmd.Flags().BoolVar(&patchJSON, "json", false, "print the patch result as JSON")
	rootCmd.AddCommand(patchCmd)
}
