package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-intel/internal/judge"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/prioritize"
)

func discoveries(n int, source string) []model.Discovery {
	out := make([]model.Discovery, n)
	for i := range out {
		out[i] = discovery(fmt.Sprintf("%s-%02d", source, i), source, "", fmt.Sprintf("%s item %d", source, i))
	}
	return out
}

func TestClassifyVendorBatch_FailedBatchBecomesPlaceholders(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		if n.Add(1) == 2 {
			return nil, errors.New("overloaded")
		}
		return batchReply(t, req, "test_update", "medium"), nil
	}

	o := newOrchestrator(t, sj)
	ds := discoveries(12, "vendor")
	cls, l := o.ClassifyVendorBatch(context.Background(), ds)

	require.Len(t, cls, 12)
	for i, c := range cls {
		assert.Equal(t, ds[i].ID, c.DiscoveryID, "order preserved")
	}
	for _, c := range cls[:10] {
		assert.Equal(t, "test_update", c.Category)
		assert.False(t, c.Degraded())
	}
	for _, c := range cls[10:] {
		assert.Equal(t, model.CategoryUnclassified, c.Category)
		assert.Equal(t, "overloaded", c.Error)
	}
	assert.Equal(t, 1, l.Calls)

	reqs := sj.requests()
	require.Len(t, reqs, 2)
	assert.Len(t, batchIDs(t, reqs[0].UserPrompt), 10)
	assert.Len(t, batchIDs(t, reqs[1].UserPrompt), 2)
	assert.Contains(t, reqs[0].SystemPrompt, "vendor discoveries")
}

func TestClassifyPaperBatch_Sizes(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		return batchReply(t, req, "new_test", "high"), nil
	}

	cls, l := newOrchestrator(t, sj).ClassifyPaperBatch(context.Background(), discoveries(31, "pubmed"))
	assert.Len(t, cls, 31)
	assert.Equal(t, 3, l.Calls)

	reqs := sj.requests()
	require.Len(t, reqs, 3)
	assert.Len(t, batchIDs(t, reqs[0].UserPrompt), 15)
	assert.Len(t, batchIDs(t, reqs[2].UserPrompt), 1)
}

func TestClassifyBatches_InterBatchDelay(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		return batchReply(t, req, "test_update", "low"), nil
	}

	o := newOrchestrator(t, sj)
	o.cfg.BatchDelay = 40 * time.Millisecond

	start := time.Now()
	_, l := o.ClassifyPayerBatch(context.Background(), discoveries(15, "payer"))
	assert.Equal(t, 3, l.Calls)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestClassifyBatches_MissingItem(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		return reply(`[{"id":"vendor-00","category":"test_update","relevance":"low"}]`), nil
	}}

	cls, _ := newOrchestrator(t, sj).ClassifyVendorBatch(context.Background(), discoveries(2, "vendor"))
	require.Len(t, cls, 2)
	assert.Equal(t, "test_update", cls[0].Category)
	assert.Equal(t, model.CategoryUnclassified, cls[1].Category)
	assert.Equal(t, "missing from batch response", cls[1].Error)
}

func TestClassifyBatches_ParseFailure(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		return reply("not json"), nil
	}}

	cls, l := newOrchestrator(t, sj).ClassifyPaperBatch(context.Background(), discoveries(3, "pubmed"))
	require.Len(t, cls, 3)
	for _, c := range cls {
		assert.Equal(t, model.CategoryUnclassified, c.Category)
		assert.Contains(t, c.Error, "parse")
	}
	assert.Equal(t, 1, l.Calls)
}

func TestClassifyPayerBatch_AppendsFacts(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		return batchReply(t, req, "coverage_change", "high"), nil
	}

	d := discovery("lcd-1", "lcd", "policy", "MolDX MRD policy")
	d.Data = map[string]any{"content": "Coverage Indications\nSignatera (0340U) is not covered. Effective Q3 2026."}
	_, _ = newOrchestrator(t, sj).ClassifyPayerBatch(context.Background(), []model.Discovery{d, discovery("lcd-2", "lcd", "", "No content")})

	reqs := sj.requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].UserPrompt
	assert.Contains(t, prompt, `"extracted_facts"`)
	assert.Contains(t, prompt, `"0340U"`)
	assert.Contains(t, prompt, `"denies"`)
	assert.Contains(t, prompt, `"quarter"`)
	assert.Equal(t, 1, strings.Count(prompt, `"extracted_facts"`))
}

func TestClassifyBatches_Empty(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		t.Fatal("no call expected")
		return nil, nil
	}}
	cls, l := newOrchestrator(t, sj).ClassifyVendorBatch(context.Background(), nil)
	assert.Empty(t, cls)
	assert.Zero(t, l.Calls)
}

func TestRun(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "paper discoveries"):
			return nil, errors.New("paper batch failed")
		case strings.Contains(req.SystemPrompt, "vendor discoveries"):
			return batchReply(t, req, "test_update", "medium"), nil
		case strings.Contains(req.SystemPrompt, "payer discoveries"):
			return batchReply(t, req, "irrelevant", "low"), nil
		case req.SystemPrompt == classifySystemPrompt:
			return reply(`{"priority":"low","classification":"test_update"}`), nil
		case req.SystemPrompt == extractSystemPrompt:
			return reply(`{"test_name":"Shield","category":"ECD"}`), nil
		default:
			return reply(`{"action_command":"Update Shield FDA status","confidence":0.8}`), nil
		}
	}

	ds := []model.Discovery{
		discovery("v1", "vendor", "vendor_update", "FDA approval for Shield"),
		discovery("p1", "pubmed", "abstract", "Shield sensitivity study"),
		discovery("y1", "payer", "policy", "Unrelated dental policy"),
		discovery("o1", "blog", "post", "Industry roundup"),
		discovery("v2", "newsroom", "press_release", "Guardant launches assay"),
	}

	res := newOrchestrator(t, sj).Run(context.Background(), ds)

	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.Discovery.ID
	}
	assert.Equal(t, []string{"v1", "v2", "p1", "y1", "o1"}, ids, "category order, then batch order")

	assert.Equal(t, 5, res.Buckets.Total())
	require.Len(t, res.Buckets.HighPriority, 2)
	assert.Equal(t, "v1", res.Buckets.HighPriority[0].Item.Discovery.ID)
	assert.Empty(t, res.Buckets.MediumPriority)
	require.Len(t, res.Buckets.Ignored, 1)
	assert.Equal(t, "y1", res.Buckets.Ignored[0].Item.Discovery.ID)
	require.Len(t, res.Buckets.LowPriority, 2)
	assert.Equal(t, "p1", res.Buckets.LowPriority[0].Item.Discovery.ID)
	assert.Equal(t, prioritize.ReasonClassificationFail, res.Buckets.LowPriority[0].Reason)
	assert.Equal(t, "o1", res.Buckets.LowPriority[1].Item.Discovery.ID)

	v1 := res.Buckets.HighPriority[0].Item
	assert.Equal(t, model.StageActionDrafted, v1.Stage)
	require.NotNil(t, v1.Action)
	assert.Nil(t, v1.Extraction)

	v2 := res.Items[1]
	require.NotNil(t, v2.Extraction, "press releases are publications")
	assert.Equal(t, "Shield", v2.Extraction.TestName)

	p1 := res.Items[2]
	assert.Equal(t, model.CategoryUnclassified, p1.Classification.Category)
	assert.Nil(t, p1.Action, "failed items get no follow-up")
	assert.Nil(t, p1.Extraction)

	assert.Equal(t, 1, res.FailureCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "p1", res.Failures[0].DiscoveryID)
	assert.Equal(t, StageBatch, res.Failures[0].Stage)
	assert.Equal(t, "paper batch failed", res.Failures[0].Reason)

	// vendor batch, payer batch, o1 classify, v1 action, v2 extract+action.
	assert.Equal(t, 6, res.Ledger.Calls)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Equal(t, "claude-sonnet-4-20250514", res.Model)
}

func TestRun_FailedVendorBatchSkipsFollowUp(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		if strings.Contains(req.SystemPrompt, "vendor discoveries") {
			return nil, errors.New("overloaded")
		}
		return nil, errors.New("unexpected follow-up call")
	}

	ds := []model.Discovery{
		discovery("v1", "vendor", "vendor_update", "FDA approval for Shield"),
		discovery("v2", "newsroom", "press_release", "Guardant launches assay"),
	}
	res := newOrchestrator(t, sj).Run(context.Background(), ds)

	require.Len(t, sj.requests(), 1, "only the vendor batch is sent")
	assert.Empty(t, res.Buckets.HighPriority)
	assert.Empty(t, res.Buckets.MediumPriority)
	require.Len(t, res.Buckets.LowPriority, 2)
	for _, pi := range res.Buckets.LowPriority {
		assert.Equal(t, prioritize.ReasonClassificationFail, pi.Reason)
		assert.Nil(t, pi.Item.Action)
		assert.Nil(t, pi.Item.Extraction)
	}
	assert.Equal(t, 2, res.FailureCount)
	assert.Zero(t, res.Ledger.Calls)
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{respond: func(judge.Request) (*judge.Response, error) {
		return nil, errors.New("unexpected")
	}}
	res := newOrchestrator(t, sj).Run(context.Background(), nil)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.FailureCount)
	assert.NotNil(t, res.Failures)
	assert.Empty(t, sj.requests())
}

func TestFormatRunSummary(t *testing.T) {
	t.Parallel()

	sj := &scriptedJudge{}
	sj.respond = func(req judge.Request) (*judge.Response, error) {
		if strings.Contains(req.SystemPrompt, "vendor discoveries") {
			return batchReply(t, req, "new_test", "high"), nil
		}
		if req.SystemPrompt == extractSystemPrompt {
			return reply(`{"test_name":"NovaScreen","is_new_test":true,"category":"ECD","extracted_data":{}}`), nil
		}
		return reply(`{"action_command":"Create NovaScreen entry","confidence":0.5}`), nil
	}

	ds := []model.Discovery{discovery("v1", "vendor", "press_release", "Nova launches NovaScreen")}
	out := FormatRunSummary(newOrchestrator(t, sj).Run(context.Background(), ds))

	assert.Contains(t, out, "Triaged 1 discoveries")
	assert.Contains(t, out, "HIGH PRIORITY (1)")
	assert.Contains(t, out, "NovaScreen")
	assert.Contains(t, out, "Missing: sensitivity, specificity")
	assert.Contains(t, out, "Action: Create NovaScreen entry (confidence 50%)")
	assert.NotContains(t, out, "FAILURES")

	assert.Contains(t, FormatRunSummary(model.RunResult{}), "No discoveries triaged.")
}

func TestDraftSubmission(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	d := model.Discovery{ID: "x", Source: "vendor", URL: "https://vendor.example/pr"}

	tds := DraftSubmission(model.SourceExtraction{
		TestName:  "OncoPick",
		IsNewTest: true,
		Category:  "tds",
		ExtractedData: map[string]any{
			"biomarkers": []any{"EGFR", "ALK"},
			"fda_status": "FDA 510(k) cleared device",
			"tat":        "7 days",
		},
	}, d, now)
	require.NotNil(t, tds)
	assert.Equal(t, "TDS", tds.Category)
	assert.Empty(t, tds.MissingFields)
	assert.Equal(t, []string{"EGFR", "ALK"}, tds.Fields["biomarkers"])
	assert.Equal(t, "FDA 510(k)", tds.Fields["fdaStatus"])
	assert.Contains(t, tds.Fields["vendorRequestedChanges"], "2026-05-04: Auto-discovered from vendor")

	trm := DraftSubmission(model.SourceExtraction{TestName: "Tracker", IsNewTest: true, Category: "TRM"}, d, now)
	require.NotNil(t, trm)
	assert.Equal(t, []string{"tat"}, trm.MissingFields)
	assert.Equal(t, "CLIA LDT", trm.Fields["fdaStatus"])

	mrd := DraftSubmission(model.SourceExtraction{
		TestName: "Naive", IsNewTest: true, Category: "MRD",
		ExtractedData: map[string]any{"approach": "Tumor-naive"},
	}, d, now)
	require.NotNil(t, mrd)
	assert.Equal(t, "Tumor-naïve", mrd.Fields["approach"])
	assert.Equal(t, "No", mrd.Fields["requiresTumorTissue"])

	assert.Nil(t, DraftSubmission(model.SourceExtraction{IsNewTest: false, Category: "MRD"}, d, now))
	assert.Nil(t, DraftSubmission(model.SourceExtraction{IsNewTest: true, Category: "XYZ"}, d, now))
	assert.Nil(t, DraftSubmission(model.SourceExtraction{IsNewTest: true, Category: "MRD", Error: "x"}, d, now))
}
