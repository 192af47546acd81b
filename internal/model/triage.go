package model

import (
	"time"

	"github.com/sells-group/coverage-intel/internal/cost"
)

// Priority is a triage urgency level.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Known classification and category labels.
const (
	ClassificationError      = "error"
	ClassificationIgnore     = "ignore"
	CategoryUnclassified     = "unclassified"
	CategoryIrrelevant       = "irrelevant"
	ClassificationNewTest    = "new_test"
	ClassificationTestUpdate = "test_update"
	ClassificationCoverage   = "coverage_change"
	ClassificationDocument   = "policy_document"
	ClassificationDelegation = "delegation_change"
)

// Stage is how far a discovery progressed through triage.
type Stage string

const (
	StageReceived      Stage = "received"
	StageClassified    Stage = "classified"
	StageExtracted     Stage = "extracted"
	StageActionDrafted Stage = "action-drafted"
)

// Classification is the judgment service's triage verdict for a discovery.
// Single-item calls fill Priority/Classification; batch calls fill
// Category/Relevance. Error is set on degraded records.
type Classification struct {
	DiscoveryID    string   `json:"id"`
	Priority       Priority `json:"priority,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Category       string   `json:"category,omitempty"`
	Relevance      string   `json:"relevance,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
	Confidence     float64  `json:"confidence"`
	AffectedTests  []string `json:"affected_tests,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Degraded reports whether the record is a placeholder for a failed call.
func (c Classification) Degraded() bool {
	return c.Error != "" || c.Classification == ClassificationError || c.Category == CategoryUnclassified
}

// Kind returns the most specific label on the record.
func (c Classification) Kind() string {
	if c.Classification != "" {
		return c.Classification
	}
	return c.Category
}

// SourceExtraction is structured test data pulled from a paper or press release.
type SourceExtraction struct {
	TestName      string         `json:"testName"`
	TestID        string         `json:"testId,omitempty"`
	Category      string         `json:"category,omitempty"`
	IsNewTest     bool           `json:"isNewTest"`
	ExtractedData map[string]any `json:"extractedData,omitempty"`
	Citation      string         `json:"citation,omitempty"`
	DataQuality   string         `json:"dataQuality,omitempty"`
	Draft         *Draft         `json:"draft,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Draft is a new-test submission skeleton with its missing required fields.
type Draft struct {
	Category      string         `json:"category"`
	Fields        map[string]any `json:"fields"`
	MissingFields []string       `json:"missingFields"`
}

// ActionCommand is a drafted change instruction for a curator.
type ActionCommand struct {
	ActionCommand        string         `json:"actionCommand"`
	FieldUpdates         map[string]any `json:"fieldUpdates,omitempty"`
	CitationText         string         `json:"citationText,omitempty"`
	RequiresVerification bool           `json:"requiresVerification"`
	Confidence           float64        `json:"confidence"`
	Error                string         `json:"error,omitempty"`
}

// Failure records one degraded step during a run.
type Failure struct {
	DiscoveryID string `json:"discoveryId"`
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
}

// ItemResult is everything triage produced for one discovery.
type ItemResult struct {
	Discovery      Discovery         `json:"discovery"`
	Stage          Stage             `json:"stage"`
	Classification Classification    `json:"classification"`
	Priority       Priority          `json:"priority,omitempty"`
	Extraction     *SourceExtraction `json:"extraction,omitempty"`
	Action         *ActionCommand    `json:"action,omitempty"`
	Facts          *ExtractionResult `json:"facts,omitempty"`
	Failures       []Failure         `json:"failures,omitempty"`
}

// PrioritizedItem is an item placed in a priority bucket with the rule that put it there.
type PrioritizedItem struct {
	Item     ItemResult `json:"item"`
	Priority Priority   `json:"priority,omitempty"`
	Reason   string     `json:"reason"`
}

// Buckets is the output of prioritization.
type Buckets struct {
	HighPriority   []PrioritizedItem `json:"highPriority"`
	MediumPriority []PrioritizedItem `json:"mediumPriority"`
	LowPriority    []PrioritizedItem `json:"lowPriority"`
	Ignored        []PrioritizedItem `json:"ignored"`
}

// Actionable returns the high then medium items.
func (b Buckets) Actionable() []PrioritizedItem {
	out := make([]PrioritizedItem, 0, len(b.HighPriority)+len(b.MediumPriority))
	out = append(out, b.HighPriority...)
	return append(out, b.MediumPriority...)
}

// Total returns the number of items across all buckets.
func (b Buckets) Total() int {
	return len(b.HighPriority) + len(b.MediumPriority) + len(b.LowPriority) + len(b.Ignored)
}

// RunResult is the outcome of one triage run. A run always completes;
// failures are counted and described rather than aborting it.
type RunResult struct {
	Items        []ItemResult `json:"items"`
	Buckets      Buckets      `json:"buckets"`
	Ledger       cost.Ledger  `json:"ledger"`
	Model        string       `json:"model"`
	CostUSD      float64      `json:"costUsd"`
	FailureCount int          `json:"failureCount"`
	Failures     []Failure    `json:"failures"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
}
