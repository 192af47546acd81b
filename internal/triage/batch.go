package triage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/model"
)

type batchPayload struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Relevance      string   `json:"relevance"`
	RelevanceScore *float64 `json:"relevance_score"`
	Priority       string   `json:"priority"`
	Confidence     float64  `json:"confidence"`
	AffectedTests  []string `json:"affected_tests"`
	Summary        string   `json:"summary"`
}

// ClassifyVendorBatch classifies vendor announcements in batches.
func (o *Orchestrator) ClassifyVendorBatch(ctx context.Context, ds []model.Discovery) ([]model.Classification, cost.Ledger) {
	return o.classifyBatches(ctx, model.CategoryVendor, ds, o.cfg.VendorBatchSize)
}

// ClassifyPaperBatch classifies papers, preprints and trial records in batches.
func (o *Orchestrator) ClassifyPaperBatch(ctx context.Context, ds []model.Discovery) ([]model.Classification, cost.Ledger) {
	return o.classifyBatches(ctx, model.CategoryPaper, ds, o.cfg.PaperBatchSize)
}

// ClassifyPayerBatch classifies payer policy items in batches. Items with
// document content carry extractor facts into the prompt.
func (o *Orchestrator) ClassifyPayerBatch(ctx context.Context, ds []model.Discovery) ([]model.Classification, cost.Ledger) {
	return o.classifyBatches(ctx, model.CategoryPayer, ds, o.cfg.PayerBatchSize)
}

func (o *Orchestrator) limiter() *rate.Limiter {
	if o.cfg.BatchDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.cfg.BatchDelay), 1)
}

// classifyBatches processes ds in fixed-size batches, one call per batch,
// strictly in order. Output order matches input order.
func (o *Orchestrator) classifyBatches(ctx context.Context, cat model.Category, ds []model.Discovery, size int) ([]model.Classification, cost.Ledger) {
	var ledger cost.Ledger
	out := make([]model.Classification, 0, len(ds))
	if len(ds) == 0 {
		return out, ledger
	}
	if size <= 0 {
		size = len(ds)
	}

	lim := o.limiter()
	system := fmt.Sprintf(batchSystemPrompt, cat)
	for start := 0; start < len(ds); start += size {
		batch := ds[start:min(start+size, len(ds))]

		if err := lim.Wait(ctx); err != nil {
			out = append(out, placeholders(batch, fmt.Sprintf("batch not started: %v", err))...)
			continue
		}

		cls, l, err := o.classifyOne(ctx, system, cat, batch)
		ledger = ledger.Merge(l)
		if err != nil {
			zap.L().Warn("triage: batch degraded",
				zap.String("category", string(cat)),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			out = append(out, placeholders(batch, err.Error())...)
			continue
		}
		out = append(out, cls...)
	}
	return out, ledger
}

func (o *Orchestrator) classifyOne(ctx context.Context, system string, cat model.Category, batch []model.Discovery) ([]model.Classification, cost.Ledger, error) {
	entries := make([]batchEntry, len(batch))
	for i, d := range batch {
		entries[i] = batchEntry{
			ID:      d.ID,
			Source:  d.Source,
			Type:    d.Type,
			Title:   d.Title,
			Summary: truncate(d.Summary, 1000),
			URL:     d.URL,
		}
		if cat == model.CategoryPayer && d.Content() != "" {
			res := extract.Extract(o.reg, model.DocumentFromDiscovery(d))
			facts := extract.SummarizeForPayer(o.reg, res)
			entries[i].Facts = &facts
		}
	}

	var payload []batchPayload
	l, err := o.complete(ctx, system, batchPrompt(entries), o.cfg.BatchMaxTokens, &payload)
	if err != nil {
		return nil, l, err
	}

	byID := make(map[string]batchPayload, len(payload))
	for _, p := range payload {
		byID[p.ID] = p
	}

	out := make([]model.Classification, len(batch))
	for i, d := range batch {
		p, ok := byID[d.ID]
		if !ok {
			out[i] = placeholder(d, "missing from batch response")
			continue
		}
		c := model.Classification{
			DiscoveryID:    d.ID,
			Category:       strings.ToLower(strings.TrimSpace(p.Category)),
			Relevance:      strings.ToLower(strings.TrimSpace(p.Relevance)),
			Priority:       normalizePriority(p.Priority),
			Confidence:     clamp01(p.Confidence),
			AffectedTests:  p.AffectedTests,
			Summary:        p.Summary,
			RelevanceScore: p.RelevanceScore,
		}
		if c.RelevanceScore != nil {
			v := clamp01(*c.RelevanceScore)
			c.RelevanceScore = &v
		}
		out[i] = c
	}
	return out, l, nil
}

func placeholder(d model.Discovery, reason string) model.Classification {
	return model.Classification{
		DiscoveryID: d.ID,
		Category:    model.CategoryUnclassified,
		Error:       reason,
	}
}

func placeholders(batch []model.Discovery, reason string) []model.Classification {
	out := make([]model.Classification, len(batch))
	for i, d := range batch {
		out[i] = placeholder(d, reason)
	}
	return out
}
