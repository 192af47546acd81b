package extract

import (
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

// Extract runs every extractor over a document. RelevanceScore is left for
// the fingerprint package to fill.
func Extract(reg *registry.Registry, doc model.Document) model.ExtractionResult {
	text := doc.Content
	return model.ExtractionResult{
		DocumentID: doc.ID,
		Dates:      ExtractAllDates(text),
		Codes:      ExtractCodes(text),
		NamedTests: ExtractTestsWithContext(reg, text),
		Criteria:   ExtractAllCriteria(text),
		Keywords:   Keywords(reg, doc.Title+"\n"+text),
	}
}

// Keywords returns the registry category keywords that appear in text, in
// registry order.
func Keywords(reg *registry.Registry, text string) []string {
	if reg == nil || text == "" {
		return nil
	}
	var out []string
	for _, km := range reg.KeywordMatchers() {
		if km.Pattern.MatchString(text) {
			out = append(out, km.Keyword)
		}
	}
	return out
}

// PayerFacts summarizes the extractor output most useful to a payer classifier.
type PayerFacts struct {
	Codes     []model.CodeMapping `json:"codes"`
	Stance    model.Stance        `json:"stance"`
	Dates     []model.DateFact    `json:"dates"`
	Tests     []string            `json:"tests"`
	PriorAuth bool                `json:"priorAuth"`
}

// SummarizeForPayer condenses a payer document's extraction for prompting.
func SummarizeForPayer(reg *registry.Registry, res model.ExtractionResult) PayerFacts {
	f := PayerFacts{
		Codes:     MapCodes(reg, res.Codes),
		Stance:    res.Criteria.Stance,
		Dates:     res.Dates,
		PriorAuth: res.Criteria.PriorAuth,
	}
	for _, t := range res.NamedTests {
		if !t.LikelyBibliography {
			f.Tests = append(f.Tests, t.Name)
		}
	}
	return f
}
