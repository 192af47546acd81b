// Package extract pulls deterministic features out of policy and publication
// text: billing codes, dates with their precision, named tests, and coverage
// criteria. Every function is total; malformed input yields empty results.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

type codeFamily int

const (
	familyCPT codeFamily = iota
	familyPLA
	familyHCPCS
	familyICD10
)

type codeRule struct {
	family  codeFamily
	pattern *regexp.Regexp
	accept  func(text string, start, end int) bool
}

// hcpcsPrefixes are the Level II letters used for lab and oncology services.
var hcpcsPrefixes = map[byte]bool{'G': true, 'P': true, 'Q': true, 'S': true}

var codeRules = []codeRule{
	{family: familyPLA, pattern: regexp.MustCompile(`(?i)\b0\d{3}U\b`)},
	{family: familyCPT, pattern: regexp.MustCompile(`\b8\d{4}\b`)},
	{
		family:  familyHCPCS,
		pattern: regexp.MustCompile(`\b[A-V]\d{4}\b`),
		accept: func(text string, start, _ int) bool {
			return hcpcsPrefixes[text[start]]
		},
	},
	{family: familyICD10, pattern: regexp.MustCompile(`\b[A-Z]\d{2}\.[0-9A-Z]{1,4}\b`)},
	{
		family:  familyICD10,
		pattern: regexp.MustCompile(`\bC\d{2}\b`),
		accept: func(text string, _, end int) bool {
			// A decimal suffix belongs to the dotted rule.
			return !(end+1 < len(text) && text[end] == '.' && isAlnum(text[end+1]))
		},
	},
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// ExtractCodes finds CPT, PLA, HCPCS and ICD-10 codes. Each family is
// deduplicated, upper-cased and sorted.
func ExtractCodes(text string) model.Codes {
	sets := map[codeFamily]map[string]bool{}
	for _, r := range codeRules {
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			if r.accept != nil && !r.accept(text, loc[0], loc[1]) {
				continue
			}
			if sets[r.family] == nil {
				sets[r.family] = map[string]bool{}
			}
			sets[r.family][strings.ToUpper(text[loc[0]:loc[1]])] = true
		}
	}
	return model.Codes{
		CPT:   sortedKeys(sets[familyCPT]),
		PLA:   sortedKeys(sets[familyPLA]),
		HCPCS: sortedKeys(sets[familyHCPCS]),
		ICD10: sortedKeys(sets[familyICD10]),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const (
	confidenceAmbiguous = 0.3
	confidenceActive    = 0.95
	confidenceRetired   = 0.5

	// HandlingFlagForReview marks mappings a curator must resolve by hand.
	HandlingFlagForReview = "flag_for_review"
)

// MapCodeToTest resolves a billing code against the registry. Ambiguous codes
// are checked first and never resolve to a test.
func MapCodeToTest(reg *registry.Registry, code string) model.CodeMapping {
	code = strings.ToUpper(strings.TrimSpace(code))
	out := model.CodeMapping{Code: code}
	if reg == nil || code == "" {
		out.Unknown = true
		return out
	}

	if a, ok := reg.Ambiguous(code); ok {
		out.Confidence = confidenceAmbiguous
		out.Ambiguous = true
		out.Handling = HandlingFlagForReview
		out.Reason = a.Reason
		out.Candidates = a.Candidates
		return out
	}

	if c, ok := reg.Code(code); ok {
		out.TestID = c.TestID
		out.TestName = c.TestName
		out.Vendor = c.Vendor
		out.Category = c.Category
		out.Status = c.Status
		out.EffectiveDate = c.EffectiveDate
		out.Confidence = confidenceRetired
		if c.Status == registry.StatusActive {
			out.Confidence = confidenceActive
		}
		return out
	}

	out.Unknown = true
	return out
}

// MapCodes resolves every code in codes.
func MapCodes(reg *registry.Registry, codes model.Codes) []model.CodeMapping {
	all := codes.All()
	out := make([]model.CodeMapping, 0, len(all))
	for _, c := range all {
		out = append(out, MapCodeToTest(reg, c))
	}
	return out
}
