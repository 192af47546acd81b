package fingerprint

import (
	"math"

	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

// Relevance signal weights.
const (
	namedTestBase      = 0.4
	namedTestExtra     = 0.05
	namedTestExtraCap  = 0.15
	namedTestMinWeight = 0.5

	mrdCodeBase     = 0.25
	mrdCodeExtra    = 0.05
	mrdCodeExtraCap = 0.10

	keywordBonus      = 0.15
	criteriaBonus     = 0.1
	liquidBiopsyBonus = 0.1
)

// ComputeRelevanceScore scores how relevant an extraction is to MRD and
// liquid-biopsy coverage, in [0,1].
func ComputeRelevanceScore(reg *registry.Registry, ex model.ExtractionResult) float64 {
	score := 0.0

	tests := 0
	for _, t := range ex.NamedTests {
		if t.Weight >= namedTestMinWeight {
			tests++
		}
	}
	if tests > 0 {
		score += namedTestBase + math.Min(namedTestExtra*float64(tests-1), namedTestExtraCap)
	}

	mrd, liquid := 0, false
	if reg != nil {
		for _, code := range ex.Codes.All() {
			if c, ok := reg.Code(code); ok && c.Category == registry.CategoryMRD && c.Status == registry.StatusActive {
				mrd++
			}
			if reg.IsLiquidBiopsyCode(code) {
				liquid = true
			}
		}
	}
	if mrd > 0 {
		score += mrdCodeBase + math.Min(mrdCodeExtra*float64(mrd-1), mrdCodeExtraCap)
	}
	if len(ex.Keywords) > 0 {
		score += keywordBonus
	}
	if ex.Criteria.CriteriaSection != "" {
		score += criteriaBonus
	}
	if liquid {
		score += liquidBiopsyBonus
	}

	return math.Round(math.Min(score, 1.0)*100) / 100
}

// Analyze extracts a document's features, scores its relevance and
// fingerprints it.
func Analyze(reg *registry.Registry, doc model.Document) (model.ExtractionResult, model.Fingerprint) {
	ex := extract.Extract(reg, doc)
	ex.RelevanceScore = ComputeRelevanceScore(reg, ex)
	return ex, Compute(doc.Content, ex.Codes)
}
