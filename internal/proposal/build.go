package proposal

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/model"
)

// idNamespace seeds deterministic proposal ids, so re-triaging a discovery
// yields the same id and the store rejects the duplicate.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sells-group.com/coverage-intel/proposals"))

const maxQuoteChars = 400

// Build turns actionable triage items into pending proposals. Items whose
// classification has no proposal type, or that lack the data their type
// requires, are skipped.
func Build(items []model.PrioritizedItem, now time.Time) []model.Proposal {
	out := make([]model.Proposal, 0, len(items))
	for _, pi := range items {
		if pi.Priority != model.PriorityHigh && pi.Priority != model.PriorityMedium {
			continue
		}
		p, ok := build(pi.Item, now.UTC())
		if !ok {
			zap.L().Debug("proposal: no proposal for item",
				zap.String("discovery", pi.Item.Discovery.ID),
				zap.String("kind", pi.Item.Classification.Kind()),
			)
			continue
		}
		out = append(out, p)
	}
	return out
}

func build(it model.ItemResult, now time.Time) (model.Proposal, bool) {
	c := it.Classification
	if c.Degraded() {
		return model.Proposal{}, false
	}
	d := it.Discovery
	p := model.Proposal{
		DiscoveryID: d.ID,
		Confidence:  confidence(it),
		Status:      model.ProposalPending,
		Source:      d.Source,
		Sources:     sources(it),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.TestID, p.TestName = testRef(it)

	switch c.Kind() {
	case model.ClassificationCoverage:
		if p.TestID != "" {
			p.Type = model.ProposalCoverage
			p.CoverageUpdates = []model.CoverageUpdate{coverageUpdate(it)}
		} else {
			a, ok := assertion(it)
			if !ok {
				return model.Proposal{}, false
			}
			p.Type = model.ProposalCoverageAssertion
			p.Assertion = &a
		}
	case model.ClassificationTestUpdate:
		if p.TestID == "" {
			return model.Proposal{}, false
		}
		p.Type = model.ProposalUpdate
		p.Changes = fieldChanges(it)
	case model.ClassificationNewTest:
		p.Type = model.ProposalNewTest
		if it.Extraction != nil {
			p.Draft = it.Extraction.Draft
			if p.TestName == "" {
				p.TestName = it.Extraction.TestName
			}
		}
	case model.ClassificationDocument:
		if d.URL == "" {
			return model.Proposal{}, false
		}
		p.Type = model.ProposalDocumentCandidate
		p.Document = &model.DocumentCandidate{
			URL:     d.URL,
			Title:   d.Title,
			Payer:   dataString(d, "payer"),
			DocType: d.Type,
		}
	case model.ClassificationDelegation:
		payer, delegate := dataString(d, "payer"), dataString(d, "delegate")
		if payer == "" || delegate == "" {
			return model.Proposal{}, false
		}
		p.Type = model.ProposalDelegationChange
		p.Delegation = &model.DelegationChange{
			Payer:         payer,
			Delegate:      delegate,
			EffectiveDate: effectiveDate(it),
		}
	default:
		return model.Proposal{}, false
	}

	p.ID = uuid.NewSHA1(idNamespace, []byte(d.ID+"/"+string(p.Type))).String()
	return p, true
}

// testRef picks the test the item is about: classifier first, then the
// highest weighted non-bibliography mention, then the source extraction.
func testRef(it model.ItemResult) (id, name string) {
	if len(it.Classification.AffectedTests) > 0 {
		id = it.Classification.AffectedTests[0]
	}
	if it.Facts != nil {
		for _, nt := range it.Facts.NamedTests {
			if nt.LikelyBibliography {
				continue
			}
			if id == "" || nt.ID == id {
				return nt.ID, nt.Name
			}
		}
	}
	if it.Extraction != nil && it.Extraction.Error == "" {
		if id == "" {
			id = it.Extraction.TestID
		}
		if id == it.Extraction.TestID {
			name = it.Extraction.TestName
		}
	}
	return id, name
}

func confidence(it model.ItemResult) float64 {
	c := it.Classification.Confidence
	if it.Action != nil && it.Action.Error == "" && it.Action.Confidence > 0 {
		c = min(c, it.Action.Confidence)
		if it.Classification.Confidence == 0 {
			c = it.Action.Confidence
		}
	}
	return max(0, min(1, c))
}

func sources(it model.ItemResult) []model.SourceRef {
	d := it.Discovery
	ref := model.SourceRef{URL: d.URL, Title: d.Title}
	switch {
	case it.Action != nil && it.Action.CitationText != "":
		ref.Quote = it.Action.CitationText
	case it.Extraction != nil && it.Extraction.Citation != "":
		ref.Quote = it.Extraction.Citation
	case it.Facts != nil && it.Facts.Criteria.CriteriaSection != "":
		ref.Quote = clip(it.Facts.Criteria.CriteriaSection)
	}
	if ref == (model.SourceRef{}) {
		return nil
	}
	return []model.SourceRef{ref}
}

func coverageUpdate(it model.ItemResult) model.CoverageUpdate {
	d := it.Discovery
	cu := model.CoverageUpdate{
		Payer:         dataString(d, "payer"),
		PolicyID:      dataString(d, "policy_id"),
		Status:        "under review",
		EffectiveDate: effectiveDate(it),
		Notes:         it.Classification.Summary,
	}
	if cu.Payer == "" {
		cu.Payer = d.Source
	}
	if it.Facts != nil {
		if s := coverageStatus(it.Facts.Criteria.Stance); s != "" {
			cu.Status = s
		}
	}
	return cu
}

func coverageStatus(s model.Stance) string {
	switch s {
	case model.StanceSupports:
		return "covered"
	case model.StanceRestricts:
		return "covered with restrictions"
	case model.StanceDenies:
		return "not covered"
	default:
		return ""
	}
}

func assertion(it model.ItemResult) (model.CoverageAssertion, bool) {
	if it.Facts == nil || it.Facts.Criteria.Stance == "" || it.Facts.Criteria.Stance == model.StanceUnclear {
		return model.CoverageAssertion{}, false
	}
	payer := dataString(it.Discovery, "payer")
	if payer == "" {
		payer = it.Discovery.Source
	}
	return model.CoverageAssertion{
		Payer:  payer,
		Stance: it.Facts.Criteria.Stance,
		Quote:  clip(it.Facts.Criteria.CriteriaSection),
	}, true
}

func fieldChanges(it model.ItemResult) []model.FieldChange {
	var updates map[string]any
	switch {
	case it.Action != nil && len(it.Action.FieldUpdates) > 0:
		updates = it.Action.FieldUpdates
	case it.Extraction != nil && len(it.Extraction.ExtractedData) > 0:
		updates = it.Extraction.ExtractedData
	}
	keys := make([]string, 0, len(updates))
	for k, v := range updates {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make([]model.FieldChange, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, model.FieldChange{Field: k, NewValue: updates[k]})
	}
	return changes
}

func effectiveDate(it model.ItemResult) string {
	if s := dataString(it.Discovery, "effective_date"); s != "" {
		return s
	}
	if it.Facts == nil {
		return ""
	}
	for _, df := range it.Facts.Dates {
		if strings.Contains(df.Field, "effective") {
			return df.Value
		}
	}
	return ""
}

func dataString(d model.Discovery, key string) string {
	if d.Data == nil {
		return ""
	}
	switch v := d.Data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxQuoteChars {
		return s
	}
	n := maxQuoteChars
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
