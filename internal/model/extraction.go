package model

// DatePrecision is the granularity of an extracted date.
type DatePrecision string

const (
	PrecisionDay     DatePrecision = "day"
	PrecisionMonth   DatePrecision = "month"
	PrecisionQuarter DatePrecision = "quarter"
)

// DateRange is an inclusive calendar range in YYYY-MM-DD form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateFact is a date found in a document with the precision it was written in.
// Value is the day itself for day precision and the range start otherwise.
type DateFact struct {
	Field     string        `json:"field"`
	Value     string        `json:"value"`
	Precision DatePrecision `json:"precision"`
	Range     *DateRange    `json:"range"`
	Original  string        `json:"original"`
}

// Codes holds billing and diagnosis codes by family.
type Codes struct {
	CPT   []string `json:"cpt"`
	PLA   []string `json:"pla"`
	HCPCS []string `json:"hcpcs"`
	ICD10 []string `json:"icd10"`
}

// All returns every code across families.
func (c Codes) All() []string {
	out := make([]string, 0, len(c.CPT)+len(c.PLA)+len(c.HCPCS)+len(c.ICD10))
	out = append(out, c.CPT...)
	out = append(out, c.PLA...)
	out = append(out, c.HCPCS...)
	out = append(out, c.ICD10...)
	return out
}

// Empty reports whether no codes were found.
func (c Codes) Empty() bool {
	return len(c.CPT)+len(c.PLA)+len(c.HCPCS)+len(c.ICD10) == 0
}

// CodeMapping is the result of resolving a billing code to a test.
type CodeMapping struct {
	Code          string   `json:"code"`
	TestID        string   `json:"testId,omitempty"`
	TestName      string   `json:"testName,omitempty"`
	Vendor        string   `json:"vendor,omitempty"`
	Category      string   `json:"category,omitempty"`
	Status        string   `json:"status,omitempty"`
	EffectiveDate string   `json:"effectiveDate,omitempty"`
	Confidence    float64  `json:"confidence"`
	Ambiguous     bool     `json:"ambiguous"`
	Unknown       bool     `json:"unknown,omitempty"`
	Handling      string   `json:"handling,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Candidates    []string `json:"candidates,omitempty"`
}

// NamedTest is a known test mentioned in a document, weighted by context.
type NamedTest struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Vendor             string  `json:"vendor"`
	MatchCount         int     `json:"matchCount"`
	Weight             float64 `json:"weight"`
	WeightedScore      float64 `json:"weightedScore"`
	LikelyBibliography bool    `json:"likelyBibliography"`
	FirstIndex         int     `json:"firstIndex"`
}

// Stance is a document's coverage position.
type Stance string

const (
	StanceSupports  Stance = "supports"
	StanceRestricts Stance = "restricts"
	StanceDenies    Stance = "denies"
	StanceUnclear   Stance = "unclear"
)

// Criteria summarizes coverage criteria found in a policy document.
type Criteria struct {
	CriteriaSection  string   `json:"criteriaSection"`
	Stance           Stance   `json:"stance"`
	StanceConfidence float64  `json:"stanceConfidence"`
	CancerTypes      []string `json:"cancerTypes"`
	Stages           []string `json:"stages"`
	PriorAuth        bool     `json:"priorAuth"`
}

// ExtractionResult is the immutable snapshot of facts extracted from one document.
type ExtractionResult struct {
	DocumentID     string      `json:"documentId,omitempty"`
	Dates          []DateFact  `json:"dates"`
	Codes          Codes       `json:"codes"`
	NamedTests     []NamedTest `json:"namedTests"`
	Criteria       Criteria    `json:"criteria"`
	Keywords       []string    `json:"keywords"`
	RelevanceScore float64     `json:"relevanceScore"`
}

// Fingerprint identifies the substance of a document independent of formatting.
type Fingerprint struct {
	HashableText     string `json:"hashableText"`
	CodesFingerprint string `json:"codesFingerprint"`
	ContentHash      string `json:"contentHash"`
}
