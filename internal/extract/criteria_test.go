package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/coverage-intel/internal/model"
)

func TestExtractAllCriteria(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		stance     model.Stance
		confidence float64
		cancer     []string
		stages     []string
		priorAuth  bool
	}{
		{
			name:       "denial is not support",
			text:       "Coverage Criteria\nCell-free DNA testing is not medically necessary for surveillance.\n\nBackground\nSome history.",
			stance:     model.StanceDenies,
			confidence: 0.6,
		},
		{
			name:       "supports",
			text:       "Criteria:\nSignatera is considered medically necessary in stage II-III colorectal cancer.",
			stance:     model.StanceSupports,
			confidence: 0.6,
			cancer:     []string{"colorectal cancer"},
			stages:     []string{"II", "III"},
		},
		{
			name:       "restricts",
			text:       "Coverage Indications\nTesting is covered only when the patient has stage IIIA breast cancer and prior authorization is obtained.",
			stance:     model.StanceRestricts,
			confidence: 0.7,
			cancer:     []string{"breast cancer"},
			stages:     []string{"IIIA"},
			priorAuth:  true,
		},
		{
			name:       "support and denial co-occur",
			text:       "Policy\nThe test is covered after resection. Use for screening is investigational.",
			stance:     model.StanceDenies,
			confidence: 0.4,
		},
		{
			name:       "fallback sentences",
			text:       "This is an intro. The assay is not covered by the plan. Contact us.",
			stance:     model.StanceDenies,
			confidence: 0.6,
		},
		{
			name:       "confidence capped",
			text:       "Criteria\nA is covered. B is covered. C is covered. D is covered. E is covered. F is covered.",
			stance:     model.StanceSupports,
			confidence: 0.95,
		},
		{
			name:   "unclear",
			text:   "Nothing relevant here.",
			stance: model.StanceUnclear,
		},
		{
			name:   "empty",
			text:   "",
			stance: model.StanceUnclear,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := ExtractAllCriteria(tt.text)
			assert.Equal(t, tt.stance, c.Stance)
			assert.InDelta(t, tt.confidence, c.StanceConfidence, 1e-9)
			if tt.cancer != nil {
				assert.Equal(t, tt.cancer, c.CancerTypes)
			}
			if tt.stages != nil {
				assert.Equal(t, tt.stages, c.Stages)
			}
			assert.Equal(t, tt.priorAuth, c.PriorAuth)
		})
	}
}

func TestExtractAllCriteria_SectionBounds(t *testing.T) {
	t.Parallel()

	text := "Description\nAbout the assay.\n\nCoverage Criteria\nCovered for stage II disease.\n\nReferences\nSmith et al."
	c := ExtractAllCriteria(text)
	assert.Equal(t, "Covered for stage II disease.", c.CriteriaSection)
}

func TestNormalizeStages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want []string
	}{
		{"stage 2 to 4", []string{"II", "III", "IV"}},
		{"stages I, II and III", []string{"I", "II", "III"}},
		{"stage IIB-IIIA", []string{"IIB", "IIIA"}},
		{"Stage iv disease", []string{"IV"}},
		{"stage I through stage III", []string{"I", "II", "III"}},
		{"stages here", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeStages(tt.text))
		})
	}
}

func TestDetectStance_Empty(t *testing.T) {
	t.Parallel()

	s, conf := DetectStance("   ")
	assert.Equal(t, model.StanceUnclear, s)
	assert.Zero(t, conf)
}

func TestSections(t *testing.T) {
	t.Parallel()

	text := "# Coverage Policy\nCovered.\n\n## Rationale\nWhy.\n\nLimitations\nOnly once per year."
	assert.Equal(t, []string{"Covered.", "Only once per year."}, Sections(text))
	assert.Nil(t, Sections("no headings at all"))
}
