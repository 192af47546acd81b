package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/dedupe"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Deduplicate discoveries from a JSON file and save them as pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		batch, err := readRecordsFile[model.Discovery](cmd, args[0])
		if err != nil {
			return err
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

		saved, err := ingest(ctx, st.Discoveries(), reg.Records(), batch, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d of %d discoveries\n", saved, len(batch))
		return nil
	},
}

// ingest drops discoveries the store already holds, annotates known tests
// and saves the rest as pending.
func ingest(ctx context.Context, ds store.DiscoveryStore, tests []model.TestRecord, batch []model.Discovery, now time.Time) (int, error) {
	existing, err := ds.Load(ctx, "")
	if err != nil {
		return 0, err
	}
	kept := dedupe.New(existingIDs(existing), tests).Filter(batch)
	for i := range kept {
		if kept[i].DiscoveredAt.IsZero() {
			kept[i].DiscoveredAt = now
		}
		kept[i].Status = model.DiscoveryPending
		kept[i].ReviewedAt = nil
	}
	if len(kept) == 0 {
		return 0, nil
	}
	if err := ds.Save(ctx, kept); err != nil {
		return 0, err
	}
	zap.L().Info("ingest: discoveries saved", zap.Int("saved", len(kept)), zap.Int("received", len(batch)))
	return len(kept), nil
}

func existingIDs(ds []model.Discovery) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
