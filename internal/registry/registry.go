// Package registry holds the immutable billing-code and test registries the
// extractor and relevance engine consult.
package registry

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coverage-intel/internal/model"
)

//go:embed data/registry.yaml
var defaultData []byte

// Code statuses.
const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

// CategoryMRD is the registry category used for MRD relevance signals.
const CategoryMRD = "MRD"

var knownCategories = map[string]bool{
	"MRD": true,
	"ECD": true,
	"TRM": true,
	"TDS": true,
	"CGP": true,
}

// CodeEntry is an authoritative code-to-test mapping.
type CodeEntry struct {
	Code          string `yaml:"code"`
	TestID        string `yaml:"test_id"`
	TestName      string `yaml:"test_name"`
	Vendor        string `yaml:"vendor"`
	Category      string `yaml:"category"`
	Status        string `yaml:"status"`
	EffectiveDate string `yaml:"effective_date"`
}

// AmbiguousCode is a billing code shared by several tests. It never resolves.
type AmbiguousCode struct {
	Code       string   `yaml:"code"`
	Reason     string   `yaml:"reason"`
	Candidates []string `yaml:"candidates"`
}

// Test is a known test with the patterns that detect it in prose.
type Test struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Vendor   string   `yaml:"vendor"`
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

// Matcher pairs a test with its compiled, case-insensitive patterns.
type Matcher struct {
	Test     Test
	Patterns []*regexp.Regexp
}

// KeywordMatcher is a category keyword with its compiled whole-word pattern.
type KeywordMatcher struct {
	Keyword string
	Pattern *regexp.Regexp
}

type document struct {
	Codes             []CodeEntry     `yaml:"codes"`
	AmbiguousCodes    []AmbiguousCode `yaml:"ambiguous_codes"`
	LiquidBiopsyCodes []string        `yaml:"liquid_biopsy_codes"`
	Tests             []Test          `yaml:"tests"`
	CategoryKeywords  []string        `yaml:"category_keywords"`
}

// Registry is read-only after Load. Accessors return copies.
type Registry struct {
	codes        map[string]CodeEntry
	ambiguous    map[string]AmbiguousCode
	liquidBiopsy map[string]bool
	matchers     []Matcher
	testsByID    map[string]int
	// codeTests maps a test id named only by code entries to the first such
	// entry in registry order.
	codeTests map[string]CodeEntry
	keywords  []KeywordMatcher
}

// Default loads the embedded registry.
func Default() (*Registry, error) {
	return Load(defaultData)
}

// LoadFile loads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	return Load(data)
}

// Open loads the registry at path, or the embedded default when path is empty.
func Open(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// Load parses and validates a YAML registry document.
func Load(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: parse yaml")
	}

	r := &Registry{
		codes:        make(map[string]CodeEntry, len(doc.Codes)),
		ambiguous:    make(map[string]AmbiguousCode, len(doc.AmbiguousCodes)),
		liquidBiopsy: make(map[string]bool, len(doc.LiquidBiopsyCodes)),
		testsByID:    make(map[string]int, len(doc.Tests)),
		codeTests:    make(map[string]CodeEntry),
	}

	for _, a := range doc.AmbiguousCodes {
		a.Code = normalizeCode(a.Code)
		if a.Code == "" {
			return nil, eris.New("registry: ambiguous code with empty code")
		}
		if _, dup := r.ambiguous[a.Code]; dup {
			return nil, eris.Errorf("registry: duplicate ambiguous code %s", a.Code)
		}
		r.ambiguous[a.Code] = a
	}

	for _, c := range doc.Codes {
		c.Code = normalizeCode(c.Code)
		switch {
		case c.Code == "":
			return nil, eris.New("registry: code entry with empty code")
		case c.TestID == "":
			return nil, eris.Errorf("registry: code %s has no test_id", c.Code)
		case c.Status != StatusActive && c.Status != StatusRetired:
			return nil, eris.Errorf("registry: code %s has unknown status %q", c.Code, c.Status)
		case !knownCategories[c.Category]:
			return nil, eris.Errorf("registry: code %s has unknown category %q", c.Code, c.Category)
		}
		if _, amb := r.ambiguous[c.Code]; amb {
			return nil, eris.Errorf("registry: code %s is both ambiguous and authoritative", c.Code)
		}
		if _, dup := r.codes[c.Code]; dup {
			return nil, eris.Errorf("registry: duplicate code %s", c.Code)
		}
		r.codes[c.Code] = c
		if _, ok := r.codeTests[c.TestID]; !ok {
			r.codeTests[c.TestID] = c
		}
	}

	for _, code := range doc.LiquidBiopsyCodes {
		if code = normalizeCode(code); code != "" {
			r.liquidBiopsy[code] = true
		}
	}

	for _, t := range doc.Tests {
		if t.ID == "" || t.Name == "" {
			return nil, eris.New("registry: test entry requires id and name")
		}
		if _, dup := r.testsByID[t.ID]; dup {
			return nil, eris.Errorf("registry: duplicate test id %s", t.ID)
		}
		if len(t.Patterns) == 0 {
			return nil, eris.Errorf("registry: test %s has no patterns", t.ID)
		}
		m := Matcher{Test: t}
		for _, p := range t.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "registry: test %s pattern %q", t.ID, p)
			}
			m.Patterns = append(m.Patterns, re)
		}
		r.testsByID[t.ID] = len(r.matchers)
		r.matchers = append(r.matchers, m)
	}

	seenKW := map[string]bool{}
	for _, kw := range doc.CategoryKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seenKW[kw] {
			continue
		}
		seenKW[kw] = true
		r.keywords = append(r.keywords, KeywordMatcher{
			Keyword: kw,
			Pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`),
		})
	}

	return r, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Code returns the authoritative entry for code.
func (r *Registry) Code(code string) (CodeEntry, bool) {
	c, ok := r.codes[normalizeCode(code)]
	return c, ok
}

// Ambiguous returns the ambiguous-code entry for code.
func (r *Registry) Ambiguous(code string) (AmbiguousCode, bool) {
	a, ok := r.ambiguous[normalizeCode(code)]
	if !ok {
		return AmbiguousCode{}, false
	}
	a.Candidates = append([]string(nil), a.Candidates...)
	return a, true
}

// IsLiquidBiopsyCode reports whether code is a generic liquid-biopsy code.
func (r *Registry) IsLiquidBiopsyCode(code string) bool {
	return r.liquidBiopsy[normalizeCode(code)]
}

// Codes returns every authoritative code, sorted.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AmbiguousCodes returns every ambiguous code, sorted.
func (r *Registry) AmbiguousCodes() []string {
	out := make([]string, 0, len(r.ambiguous))
	for c := range r.ambiguous {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Matchers returns the test matchers in registry order. Compiled patterns are
// safe to share.
func (r *Registry) Matchers() []Matcher {
	out := make([]Matcher, len(r.matchers))
	for i, m := range r.matchers {
		out[i] = Matcher{Test: copyTest(m.Test), Patterns: append([]*regexp.Regexp(nil), m.Patterns...)}
	}
	return out
}

// Tests returns the known tests in registry order.
func (r *Registry) Tests() []Test {
	out := make([]Test, len(r.matchers))
	for i, m := range r.matchers {
		out[i] = copyTest(m.Test)
	}
	return out
}

// Records returns the known tests as dataset records.
func (r *Registry) Records() []model.TestRecord {
	out := make([]model.TestRecord, len(r.matchers))
	for i, m := range r.matchers {
		out[i] = model.TestRecord{ID: m.Test.ID, Name: m.Test.Name, Vendor: m.Test.Vendor, Category: m.Test.Category}
	}
	return out
}

// Keywords returns the category keyword list, lowercased.
func (r *Registry) Keywords() []string {
	out := make([]string, len(r.keywords))
	for i, k := range r.keywords {
		out[i] = k.Keyword
	}
	return out
}

// KeywordMatchers returns the category keywords with their compiled patterns
// in registry order.
func (r *Registry) KeywordMatchers() []KeywordMatcher {
	return append([]KeywordMatcher(nil), r.keywords...)
}

// LookupTest finds a test by id, falling back to tests only named by a code entry.
func (r *Registry) LookupTest(id string) (model.TestRecord, bool) {
	if i, ok := r.testsByID[id]; ok {
		t := r.matchers[i].Test
		return model.TestRecord{ID: t.ID, Name: t.Name, Vendor: t.Vendor, Category: t.Category}, true
	}
	if c, ok := r.codeTests[id]; ok {
		return model.TestRecord{ID: c.TestID, Name: c.TestName, Vendor: c.Vendor, Category: c.Category}, true
	}
	return model.TestRecord{}, false
}

func copyTest(t Test) Test {
	t.Patterns = append([]string(nil), t.Patterns...)
	return t
}
