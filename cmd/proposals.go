package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/proposal"
)

var (
	proposalsStatus   string
	proposalsJSON     bool
	proposalsReviewer string
	proposalsNotes    string
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List and review change proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProposals(cmd, func(svc *proposal.Service) error {
			ps, err := svc.List(cmd.Context(), model.ProposalStatus(proposalsStatus))
			if err != nil {
				return err
			}
			if proposalsJSON {
				return printJSON(cmd.OutOrStdout(), ps)
			}
			return printProposals(cmd.OutOrStdout(), ps)
		})
	},
}

var proposalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProposals(cmd, func(svc *proposal.Service) error {
			p, err := svc.Approve(cmd.Context(), args[0], reviewer(), proposalsNotes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s approved by %s\n", p.ID, p.ReviewedBy)
			return nil
		})
	},
}

var proposalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProposals(cmd, func(svc *proposal.Service) error {
			p, err := svc.Reject(cmd.Context(), args[0], reviewer(), proposalsNotes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rejected by %s\n", p.ID, p.ReviewedBy)
			return nil
		})
	},
}

var proposalsNoteCmd = &cobra.Command{
	Use:   "note <id> <text>",
	Short: "Add a note to a proposal's audit trail without changing its status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProposals(cmd, func(svc *proposal.Service) error {
			if err := svc.Annotate(cmd.Context(), args[0], reviewer(), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "note added to %s\n", args[0])
			return nil
		})
	},
}

// withProposals opens the store for the duration of fn.
func withProposals(cmd *cobra.Command, fn func(svc *proposal.Service) error) error {
	st, err := initStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newProposalService(st)
	if err != nil {
		return err
	}
	return fn(svc)
}

func reviewer() string {
	if proposalsReviewer != "" {
		return proposalsReviewer
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func printProposals(w io.Writer, ps []model.Proposal) error {
	if len(ps) == 0 {
		_, err := fmt.Fprintln(w, "No proposals.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tTEST\tCONFIDENCE\tSOURCE")
	for _, p := range ps {
		test := p.TestID
		if test == "" {
			test = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n", p.ID, p.Type, p.Status, test, p.Confidence, p.Source)
	}
	return tw.Flush()
}

func init() {
	proposalsListCmd.Flags().StringVar(&proposalsStatus, "status", "", "filter by status (pending, approved, rejected, applied)")
	proposalsListCmd.Flags().BoolVar(&proposalsJSON, "json", false, "print JSON")
	for _, c := range []*cobra.Command{proposalsApproveCmd, proposalsRejectCmd} {
		c.Flags().StringVar(&proposalsNotes, "notes", "", "review notes")
	}
	proposalsCmd.PersistentFlags().StringVar(&proposalsReviewer, "reviewer", "", "reviewer name (default $USER)")
	proposalsCmd.AddCommand(proposalsListCmd, proposalsApproveCmd, proposalsRejectCmd, proposalsNoteCmd)
	rootCmd.AddCommand(proposalsCmd)
}
