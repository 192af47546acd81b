package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/fingerprint"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

var fingerprintPrevious string

var extractCmd = &cobra.Command{
	Use:   "extract <file|->",
	Short: "Extract codes, dates, named tests and criteria from policy documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readRecordsFile[model.Document](cmd, args[0])
		if err != nil {
			return err
		}
		reg, err := initRegistry()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), extractDocuments(reg, docs))
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file|->",
	Short: "Fingerprint policy documents and score their relevance",
	Long:  "Fingerprints each document. With --previous, compares against earlier fingerprint output and reports what changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readRecordsFile[model.Document](cmd, args[0])
		if err != nil {
			return err
		}
		var prev []fingerprintRecord
		if fingerprintPrevious != "" {
			prev, err = readRecordsFile[fingerprintRecord](cmd, fingerprintPrevious)
			if err != nil {
				return err
			}
		}
		reg, err := initRegistry()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fingerprintDocuments(reg, docs, prev))
	},
}

func extractDocuments(reg *registry.Registry, docs []model.Document) []model.ExtractionResult {
	out := make([]model.ExtractionResult, len(docs))
	for i, d := range docs {
		out[i] = extract.Extract(reg, d)
	}
	return out
}

type fingerprintRecord struct {
	ID          string             `json:"id"`
	Fingerprint model.Fingerprint  `json:"fingerprint"`
	Relevance   float64            `json:"relevance"`
	Change      fingerprint.Change `json:"change,omitempty"`
}

// fingerprintDocuments fingerprints docs. Documents with a previous record
// get Change set; new documents leave it empty.
func fingerprintDocuments(reg *registry.Registry, docs []model.Document, prev []fingerprintRecord) []fingerprintRecord {
	byID := make(map[string]model.Fingerprint, len(prev))
	for _, p := range prev {
		byID[p.ID] = p.Fingerprint
	}

	out := make([]fingerprintRecord, len(docs))
	for i, d := range docs {
		ex, fp := fingerprint.Analyze(reg, d)
		rec := fingerprintRecord{ID: d.ID, Fingerprint: fp, Relevance: ex.RelevanceScore}
		if old, ok := byID[d.ID]; ok {
			rec.Change = fingerprint.Compare(old, fp)
		}
		out[i] = rec
	}
	return out
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintPrevious, "previous", "", "earlier fingerprint output to compare against")
	rootCmd.AddCommand(extractCmd, fingerprintCmd)
}
