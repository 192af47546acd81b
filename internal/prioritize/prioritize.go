// Package prioritize buckets triaged items into high, medium, low and
// ignored. It performs no I/O.
package prioritize

import (
	"fmt"
	"strings"

	"github.com/sells-group/coverage-intel/internal/model"
)

// Reasons attached to bucketed items.
const (
	ReasonIrrelevantScore    = "classifier relevance score is 0"
	ReasonIrrelevantCategory = "classifier category is irrelevant"
	ReasonClassificationFail = "classification failed"
	ReasonClassifierPriority = "classifier priority"
	ReasonRegulatory         = "regulatory or FDA approval"
	ReasonExplicitHigh       = "classifier relevance is high"
	ReasonVendorRelevant     = "vendor source with non-low relevance"
	ReasonTrackedSource      = "payer, paper or vendor source"
	ReasonDefault            = "no priority signal"
)

// regulatoryHints mark a discovery type as a regulatory event.
var regulatoryHints = []string{"fda", "regulatory", "approval", "clearance"}

// rule is one inference step. It returns ok=false to fall through.
type rule struct {
	name  string
	apply func(it model.ItemResult) (model.Priority, string, bool)
}

// inference is evaluated in order after the irrelevant and classifier checks.
var inference = []rule{
	{"regulatory", func(it model.ItemResult) (model.Priority, string, bool) {
		t := strings.ToLower(it.Discovery.Type)
		for _, h := range regulatoryHints {
			if strings.Contains(t, h) {
				return model.PriorityHigh, ReasonRegulatory, true
			}
		}
		return "", "", false
	}},
	{"explicit-high", func(it model.ItemResult) (model.Priority, string, bool) {
		if relevance(it) == "high" {
			return model.PriorityHigh, ReasonExplicitHigh, true
		}
		return "", "", false
	}},
	{"vendor", func(it model.ItemResult) (model.Priority, string, bool) {
		if it.Discovery.Category() == model.CategoryVendor && relevance(it) != "low" {
			return model.PriorityHigh, ReasonVendorRelevant, true
		}
		return "", "", false
	}},
	{"tracked-source", func(it model.ItemResult) (model.Priority, string, bool) {
		switch it.Discovery.Category() {
		case model.CategoryPayer, model.CategoryPaper, model.CategoryVendor:
			return model.PriorityMedium, ReasonTrackedSource, true
		}
		return "", "", false
	}},
}

func relevance(it model.ItemResult) string {
	return strings.ToLower(strings.TrimSpace(it.Classification.Relevance))
}

// Assess returns the priority for one item, or ignored=true with the reason
// it was dropped.
func Assess(it model.ItemResult) (p model.Priority, reason string, ignored bool) {
	c := it.Classification
	if c.RelevanceScore != nil && *c.RelevanceScore == 0 {
		return "", ReasonIrrelevantScore, true
	}
	if strings.EqualFold(c.Category, model.CategoryIrrelevant) {
		return "", ReasonIrrelevantCategory, true
	}

	// A placeholder carries no judgment; inferring from its source alone
	// would promote every failed vendor item.
	if c.Degraded() {
		return model.PriorityLow, ReasonClassificationFail, false
	}

	switch pr := model.Priority(strings.ToLower(string(c.Priority))); pr {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return pr, fmt.Sprintf("%s: %s", ReasonClassifierPriority, pr), false
	}

	for _, r := range inference {
		if pr, why, ok := r.apply(it); ok {
			return pr, why, false
		}
	}
	return model.PriorityLow, ReasonDefault, false
}

// Prioritize buckets items, preserving input order within each bucket. Each
// returned item carries its assigned priority.
func Prioritize(items []model.ItemResult) model.Buckets {
	b := model.Buckets{
		HighPriority:   []model.PrioritizedItem{},
		MediumPriority: []model.PrioritizedItem{},
		LowPriority:    []model.PrioritizedItem{},
		Ignored:        []model.PrioritizedItem{},
	}
	for _, it := range items {
		p, reason, ignored := Assess(it)
		it.Priority = p
		pi := model.PrioritizedItem{Item: it, Priority: p, Reason: reason}
		switch {
		case ignored:
			b.Ignored = append(b.Ignored, pi)
		case p == model.PriorityHigh:
			b.HighPriority = append(b.HighPriority, pi)
		case p == model.PriorityMedium:
			b.MediumPriority = append(b.MediumPriority, pi)
		default:
			b.LowPriority = append(b.LowPriority, pi)
		}
	}
	return b
}
