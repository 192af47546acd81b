// Package triage classifies discoveries with the judgment service, pulls
// structured data from publications and drafts curator actions. Every
// judgment step degrades to a placeholder record on failure.
package triage

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/fingerprint"
	"github.com/sells-group/coverage-intel/internal/judge"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/prioritize"
	"github.com/sells-group/coverage-intel/internal/registry"
)

// Failure stages recorded on items.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
	StageAction   = "action"
	StageBatch    = "batch"
)

// Config controls batching and request sizes.
type Config struct {
	Model           string
	VendorBatchSize int
	PaperBatchSize  int
	PayerBatchSize  int
	// BatchDelay is the minimum spacing between batch calls within one
	// category.
	BatchDelay time.Duration
	MaxTokens  int64
	// BatchMaxTokens is the completion budget for one batch call.
	BatchMaxTokens int64
}

// DefaultConfig returns the batch sizes and delays used in production.
func DefaultConfig() Config {
	return Config{
		VendorBatchSize: 10,
		PaperBatchSize:  15,
		PayerBatchSize:  5,
		BatchDelay:      time.Second,
		MaxTokens:       1024,
		BatchMaxTokens:  4096,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VendorBatchSize <= 0 {
		c.VendorBatchSize = def.VendorBatchSize
	}
	if c.PaperBatchSize <= 0 {
		c.PaperBatchSize = def.PaperBatchSize
	}
	if c.PayerBatchSize <= 0 {
		c.PayerBatchSize = def.PayerBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.BatchMaxTokens <= 0 {
		c.BatchMaxTokens = def.BatchMaxTokens
	}
	return c
}

// Orchestrator runs triage against a judgment service.
type Orchestrator struct {
	judge judge.Service
	reg   *registry.Registry
	calc  *cost.Calculator
	cfg   Config
	now   func() time.Time
}

// New creates an Orchestrator. reg and calc may be nil; without a registry
// payer facts and test-id resolution are skipped, without a calculator runs
// report zero cost.
func New(svc judge.Service, reg *registry.Registry, calc *cost.Calculator, cfg Config) *Orchestrator {
	return &Orchestrator{
		judge: svc,
		reg:   reg,
		calc:  calc,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// complete sends one request and decodes its JSON payload into v. The
// returned ledger holds the call whenever the service answered, even if the
// payload did not parse.
func (o *Orchestrator) complete(ctx context.Context, system, user string, maxTokens int64, v any) (cost.Ledger, error) {
	var l cost.Ledger
	resp, err := o.judge.Complete(ctx, judge.Request{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return l, err
	}
	l = l.Add(resp.Usage)
	return l, judge.DecodeJSON(resp.Content, v)
}

type classifyPayload struct {
	Priority       string   `json:"priority"`
	Classification string   `json:"classification"`
	Confidence     float64  `json:"confidence"`
	AffectedTests  []string `json:"affected_tests"`
	Summary        string   `json:"summary"`
	Reasoning      string   `json:"reasoning"`
}

// Classify asks the judgment service for a priority and classification.
// On any failure it returns {priority: low, classification: error}.
func (o *Orchestrator) Classify(ctx context.Context, d model.Discovery) (model.Classification, cost.Ledger) {
	var p classifyPayload
	l, err := o.complete(ctx, classifySystemPrompt, itemPrompt(d), o.cfg.MaxTokens, &p)
	if err != nil {
		zap.L().Warn("triage: classify degraded", zap.String("discovery_id", d.ID), zap.Error(err))
		return model.Classification{
			DiscoveryID:    d.ID,
			Priority:       model.PriorityLow,
			Classification: model.ClassificationError,
			Error:          err.Error(),
		}, l
	}

	return model.Classification{
		DiscoveryID:    d.ID,
		Priority:       normalizePriority(p.Priority),
		Classification: strings.ToLower(strings.TrimSpace(p.Classification)),
		Confidence:     clamp01(p.Confidence),
		AffectedTests:  p.AffectedTests,
		Summary:        p.Summary,
		Reasoning:      p.Reasoning,
	}, l
}

type extractPayload struct {
	TestName      *string        `json:"test_name"`
	TestID        *string        `json:"test_id"`
	IsNewTest     bool           `json:"is_new_test"`
	Category      string         `json:"category"`
	ExtractedData map[string]any `json:"extracted_data"`
	Citation      string         `json:"citation"`
	DataQuality   string         `json:"data_quality"`
}

// ExtractFromSource pulls structured test data from a paper or press
// release. New tests get a draft submission listing missing required fields.
func (o *Orchestrator) ExtractFromSource(ctx context.Context, d model.Discovery) (model.SourceExtraction, cost.Ledger) {
	var p extractPayload
	l, err := o.complete(ctx, extractSystemPrompt, itemPrompt(d), o.cfg.MaxTokens, &p)
	if err != nil {
		zap.L().Warn("triage: extraction degraded", zap.String("discovery_id", d.ID), zap.Error(err))
		return model.SourceExtraction{Error: err.Error()}, l
	}

	ex := model.SourceExtraction{
		TestName:      deref(p.TestName),
		TestID:        deref(p.TestID),
		Category:      strings.ToUpper(strings.TrimSpace(p.Category)),
		IsNewTest:     p.IsNewTest,
		ExtractedData: p.ExtractedData,
		Citation:      p.Citation,
		DataQuality:   strings.ToLower(p.DataQuality),
	}
	if ex.TestID == "" && ex.TestName != "" {
		ex.TestID = o.resolveTestID(ex.TestName)
	}
	ex.Draft = DraftSubmission(ex, d, o.now())
	return ex, l
}

// resolveTestID matches a test name against the registry patterns.
func (o *Orchestrator) resolveTestID(name string) string {
	if o.reg == nil {
		return ""
	}
	if tests := extract.ExtractTestsWithContext(o.reg, name); len(tests) > 0 {
		return tests[0].ID
	}
	return ""
}

type actionPayload struct {
	ActionCommand        string         `json:"action_command"`
	FieldUpdates         map[string]any `json:"field_updates"`
	CitationText         string         `json:"citation_text"`
	RequiresVerification *bool          `json:"requires_verification"`
	Confidence           float64        `json:"confidence"`
}

// DraftActionCommand drafts a curator instruction for a discovery. extracted
// may be nil. RequiresVerification defaults to true.
func (o *Orchestrator) DraftActionCommand(ctx context.Context, d model.Discovery, extracted *model.SourceExtraction) (model.ActionCommand, cost.Ledger) {
	var p actionPayload
	l, err := o.complete(ctx, actionSystemPrompt, actionPrompt(d, extracted), o.cfg.MaxTokens, &p)
	if err != nil {
		zap.L().Warn("triage: action drafting degraded", zap.String("discovery_id", d.ID), zap.Error(err))
		return model.ActionCommand{RequiresVerification: true, Error: err.Error()}, l
	}

	verify := true
	if p.RequiresVerification != nil {
		verify = *p.RequiresVerification
	}
	return model.ActionCommand{
		ActionCommand:        p.ActionCommand,
		FieldUpdates:         p.FieldUpdates,
		CitationText:         p.CitationText,
		RequiresVerification: verify,
		Confidence:           clamp01(p.Confidence),
	}, l
}

// ProcessItem runs the full per-item pipeline: classify, extract when the
// discovery is a publication and was not ignored, then draft an action when
// the item prioritizes high or medium.
func (o *Orchestrator) ProcessItem(ctx context.Context, d model.Discovery) (model.ItemResult, cost.Ledger) {
	item := model.ItemResult{Discovery: d, Stage: model.StageReceived}
	o.attachFacts(&item)

	cls, ledger := o.Classify(ctx, d)
	item.Classification = cls
	item.Stage = model.StageClassified
	item.Priority, _, _ = prioritize.Assess(item)
	if cls.Degraded() {
		item.Failures = append(item.Failures, model.Failure{DiscoveryID: d.ID, Stage: StageClassify, Reason: cls.Error})
	}

	l := o.followUp(ctx, &item)
	return item, ledger.Merge(l)
}

// followUp runs extraction and action drafting for an already classified item.
func (o *Orchestrator) followUp(ctx context.Context, item *model.ItemResult) cost.Ledger {
	var ledger cost.Ledger
	d := item.Discovery

	if item.Classification.Kind() != model.ClassificationIgnore && d.IsPublication() {
		ex, l := o.ExtractFromSource(ctx, d)
		ledger = ledger.Merge(l)
		item.Extraction = &ex
		item.Stage = model.StageExtracted
		if ex.Error != "" {
			item.Failures = append(item.Failures, model.Failure{DiscoveryID: d.ID, Stage: StageExtract, Reason: ex.Error})
		}
	}

	if item.Priority == model.PriorityHigh || item.Priority == model.PriorityMedium {
		action, l := o.DraftActionCommand(ctx, d, item.Extraction)
		ledger = ledger.Merge(l)
		item.Action = &action
		item.Stage = model.StageActionDrafted
		if action.Error != "" {
			item.Failures = append(item.Failures, model.Failure{DiscoveryID: d.ID, Stage: StageAction, Reason: action.Error})
		}
	}
	return ledger
}

// attachFacts runs the extractor over document content carried on the
// discovery.
func (o *Orchestrator) attachFacts(item *model.ItemResult) {
	if item.Discovery.Content() == "" {
		return
	}
	ex, _ := fingerprint.Analyze(o.reg, model.DocumentFromDiscovery(item.Discovery))
	item.Facts = &ex
}

func normalizePriority(s string) model.Priority {
	switch p := model.Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return p
	}
	return ""
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
