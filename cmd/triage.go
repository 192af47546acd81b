package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/judge"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/monitoring"
	"github.com/sells-group/coverage-intel/internal/proposal"
	"github.com/sells-group/coverage-intel/internal/store"
	"github.com/sells-group/coverage-intel/internal/triage"
	"github.com/sells-group/coverage-intel/pkg/anthropic"
)

var (
	triageLimit  int
	triageDryRun bool
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage pending discoveries and submit proposals for the actionable ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("triage"); err != nil {
			return err
		}

		ctx := cmd.Context()
		if d := cfg.TriageTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		client := anthropic.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL)
		svc := judge.NewAnthropic(client, cfg.JudgeServiceConfig())
		orch := triage.New(svc, reg, cost.NewCalculator(cfg.Pricing), cfg.TriageRunConfig())

		ps, err := newProposalService(st)
		if err != nil {
			return err
		}

		opts := triageOptions{
			Limit:   triageLimit,
			DryRun:  triageDryRun,
			Alerter: monitoring.NewAlerter(cfg.Monitoring),
		}
		_, err = runTriage(ctx, st.Discoveries(), orch, ps, opts, cmd.OutOrStdout())
		return err
	},
}

type triageOptions struct {
	Limit  int
	DryRun bool
	// Alerter receives the run result when set and enabled.
	Alerter *monitoring.Alerter
}

type triageReport struct {
	Result   model.RunResult
	Created  []string
	Skipped  []string
	Reviewed int
}

// runTriage triages pending discoveries, submits proposals for the high and
// medium ones and marks every successfully classified discovery reviewed.
// Discoveries whose classification degraded stay pending for the next run.
func runTriage(ctx context.Context, ds store.DiscoveryStore, orch *triage.Orchestrator, ps *proposal.Service, opts triageOptions, out io.Writer) (*triageReport, error) {
	pending, err := ds.Load(ctx, model.DiscoveryPending)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending discoveries.")
		return &triageReport{}, nil
	}

	result := orch.Run(ctx, pending)
	fmt.Fprint(out, triage.FormatRunSummary(result))
	if opts.Alerter != nil {
		opts.Alerter.Notify(ctx, result)
	}

	rep := &triageReport{Result: result}
	if opts.DryRun {
		return rep, nil
	}

	proposals := proposal.Build(result.Buckets.Actionable(), time.Now().UTC())
	sub, err := ps.Submit(ctx, proposals)
	if err != nil {
		return nil, eris.Wrap(err, "submit proposals")
	}
	rep.Created, rep.Skipped = sub.Created, sub.Skipped

	now := time.Now().UTC()
	for _, it := range result.Items {
		if it.Classification.Degraded() {
			continue
		}
		if err := ds.MarkReviewed(ctx, it.Discovery.ID, now); err != nil {
			return nil, eris.Wrapf(err, "mark reviewed %s", it.Discovery.ID)
		}
		rep.Reviewed++
	}

	fmt.Fprintf(out, "\nProposals: %d created, %d already known\n", len(rep.Created), len(rep.Skipped))
	fmt.Fprintf(out, "Discoveries reviewed: %d of %d\n", rep.Reviewed, len(pending))
	zap.L().Info("triage: proposals submitted",
		zap.Int("created", len(rep.Created)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("reviewed", rep.Reviewed),
	)
	return rep, nil
}

func init() {
	triageCmd.Flags().IntVar(&triageLimit, "limit", 0, "max pending discoveries to triage (0 = all)")
	triageCmd.Flags().BoolVar(&triageDryRun, "dry-run", false, "print the digest without submitting proposals or marking discoveries reviewed")
	rootCmd.AddCommand(triageCmd)
}
