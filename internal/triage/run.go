package triage

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/metrics"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/prioritize"
)

// branch is the output of one category's classification pass. Each branch
// owns its items and ledger until the join.
type branch struct {
	items  []model.ItemResult
	ledger cost.Ledger
}

// Run triages discoveries. Vendor, paper and payer items are batch
// classified in parallel branches; other sources go through ProcessItem in a
// fourth branch. High and medium items from the batch branches then get
// extraction and action drafting, again one branch per category. Run always
// returns; failures are counted on the result.
func (o *Orchestrator) Run(ctx context.Context, ds []model.Discovery) model.RunResult {
	started := o.now()

	groups := make(map[model.Category][]model.Discovery)
	for _, d := range ds {
		groups[d.Category()] = append(groups[d.Category()], d)
	}

	cats := model.AllCategories()
	branches := make([]branch, len(cats))

	var g errgroup.Group
	for i, cat := range cats {
		group := groups[cat]
		if len(group) == 0 {
			continue
		}
		g.Go(func() error {
			branches[i] = o.classifyCategory(ctx, cat, group)
			return nil
		})
	}
	_ = g.Wait()

	var items []model.ItemResult
	for _, b := range branches {
		items = append(items, b.items...)
	}
	for i := range items {
		p, _, _ := prioritize.Assess(items[i])
		items[i].Priority = p
	}

	// Follow-up per batched category. offsets[i] is the first index of
	// branch i in items; branches write disjoint slices.
	followUps := make([]cost.Ledger, len(cats))
	offset := 0
	var fg errgroup.Group
	for i, cat := range cats {
		n := len(branches[i].items)
		part := items[offset : offset+n]
		offset += n
		if cat == model.CategoryOther || n == 0 {
			continue
		}
		fg.Go(func() error {
			for j := range part {
				if part[j].Classification.Degraded() {
					continue
				}
				if part[j].Priority == model.PriorityHigh || part[j].Priority == model.PriorityMedium {
					followUps[i] = followUps[i].Merge(o.followUp(ctx, &part[j]))
				}
			}
			return nil
		})
	}
	_ = fg.Wait()

	ledger := cost.Ledger{}
	for i := range cats {
		ledger = ledger.Merge(branches[i].ledger).Merge(followUps[i])
	}

	result := model.RunResult{
		Items:      items,
		Buckets:    prioritize.Prioritize(items),
		Ledger:     ledger,
		Model:      o.cfg.Model,
		CostUSD:    o.calc.Ledger(o.cfg.Model, ledger),
		Failures:   []model.Failure{},
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	for _, it := range items {
		result.Failures = append(result.Failures, it.Failures...)
	}
	result.FailureCount = len(result.Failures)

	o.record(result)
	zap.L().Info("triage: run complete",
		zap.Int("items", len(items)),
		zap.Int("high", len(result.Buckets.HighPriority)),
		zap.Int("medium", len(result.Buckets.MediumPriority)),
		zap.Int("failures", result.FailureCount),
		zap.Int("calls", ledger.Calls),
		zap.Float64("cost_usd", result.CostUSD),
	)
	return result
}

// classifyCategory produces classified items for one category in input order.
func (o *Orchestrator) classifyCategory(ctx context.Context, cat model.Category, group []model.Discovery) branch {
	var b branch
	if cat == model.CategoryOther {
		for _, d := range group {
			item, l := o.ProcessItem(ctx, d)
			b.items = append(b.items, item)
			b.ledger = b.ledger.Merge(l)
		}
		return b
	}

	var cls []model.Classification
	switch cat {
	case model.CategoryVendor:
		cls, b.ledger = o.ClassifyVendorBatch(ctx, group)
	case model.CategoryPaper:
		cls, b.ledger = o.ClassifyPaperBatch(ctx, group)
	default:
		cls, b.ledger = o.ClassifyPayerBatch(ctx, group)
	}

	b.items = make([]model.ItemResult, len(group))
	for i, d := range group {
		item := model.ItemResult{Discovery: d, Stage: model.StageClassified, Classification: cls[i]}
		if cat == model.CategoryPayer {
			o.attachFacts(&item)
		}
		if cls[i].Degraded() {
			item.Failures = append(item.Failures, model.Failure{DiscoveryID: d.ID, Stage: StageBatch, Reason: cls[i].Error})
		}
		b.items[i] = item
	}
	return b
}

func (o *Orchestrator) record(r model.RunResult) {
	m := metrics.Get()
	for _, it := range r.Items {
		m.TriageItemsTotal.WithLabelValues(string(it.Discovery.Category()), string(it.Priority)).Inc()
	}
	for _, f := range r.Failures {
		m.TriageFailures.WithLabelValues(f.Stage).Inc()
	}
	m.TriageCostUSD.Add(r.CostUSD)
}
