package extract

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/coverage-intel/internal/model"
)

var (
	// trackedHeading opens a coverage-relevant section.
	trackedHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:\d+[.)][ \t]*)?(?:coverage (?:indications|criteria|guidance|policy|position)|indications(?: and limitations)?(?: of coverage)?(?: and/or medical necessity)?|medical necessity(?: criteria)?|(?:clinical )?criteria|policy(?: statement)?|limitations|exclusions)[ \t]*:?[ \t]*$`)

	// otherHeading closes a section without opening a tracked one.
	otherHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:\d+[.)][ \t]*)?(?:references|bibliography|works cited|background|description|rationale|summary of evidence|coding(?: information)?|billing(?: and coding)?(?: guidelines)?|documentation requirements|revision history|definitions|sources of information|appendix|scope|purpose)[ \t]*:?[ \t]*$`)

	criteriaKeyword = regexp.MustCompile(`(?i)\b(?:medically necessary|medical necessity|covered|coverage|not covered|non-covered|investigational|experimental|prior authorization|limited to|considered|reasonable and necessary)\b`)

	sentenceSplit = regexp.MustCompile(`[.!?]+\s+|\n{2,}`)
)

type stanceRule struct {
	stance   model.Stance
	patterns []*regexp.Regexp
}

var (
	denyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bnot\s+(?:considered\s+)?(?:to\s+be\s+)?medically\s+necessary\b`),
		regexp.MustCompile(`(?i)\bnot\s+reasonable\s+and\s+necessary\b`),
		regexp.MustCompile(`(?i)\bnot\s+covered\b`),
		regexp.MustCompile(`(?i)\bnon-?covered\b`),
		regexp.MustCompile(`(?i)\binvestigational\b`),
		regexp.MustCompile(`(?i)\bexperimental\b`),
		regexp.MustCompile(`(?i)\bunproven\b`),
		regexp.MustCompile(`(?i)\bexcluded\s+from\s+coverage\b`),
	}
	restrictPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bonly\s+(?:when|if|for|in)\b`),
		regexp.MustCompile(`(?i)\blimited\s+to\b`),
		regexp.MustCompile(`(?i)\brestricted\s+to\b`),
		regexp.MustCompile(`(?i)\bmust\s+(?:meet|have|be)\b`),
		regexp.MustCompile(`(?i)\ball\s+of\s+the\s+following\b`),
		regexp.MustCompile(`(?i)\bprior\s+authorization\b`),
		regexp.MustCompile(`(?i)\bsubject\s+to\b`),
	}
	supportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmedically\s+necessary\b`),
		regexp.MustCompile(`(?i)\breasonable\s+and\s+necessary\b`),
		regexp.MustCompile(`(?i)\bcovered\b`),
		regexp.MustCompile(`(?i)\bmeets?\s+coverage\s+criteria\b`),
		regexp.MustCompile(`(?i)\bis\s+indicated\b`),
		regexp.MustCompile(`(?i)\bapproved\s+for\s+coverage\b`),
	}

	stanceRules = []stanceRule{
		{stance: model.StanceDenies, patterns: denyPatterns},
		{stance: model.StanceRestricts, patterns: restrictPatterns},
		{stance: model.StanceSupports, patterns: supportPatterns},
	}

	priorAuthPattern = regexp.MustCompile(`(?i)\b(?:prior\s+auth(?:orization)?|pre-?authorization|pre-?certification|precertification)\b`)
)

type cancerType struct {
	name    string
	pattern *regexp.Regexp
}

var cancerTypes = []cancerType{
	{"colorectal cancer", regexp.MustCompile(`(?i)\b(?:colorectal|colon|rectal|crc)\b`)},
	{"breast cancer", regexp.MustCompile(`(?i)\bbreast\b`)},
	{"lung cancer", regexp.MustCompile(`(?i)\b(?:lung|nsclc|sclc)\b`)},
	{"pancreatic cancer", regexp.MustCompile(`(?i)\bpancrea(?:s|tic)\b`)},
	{"prostate cancer", regexp.MustCompile(`(?i)\bprostat(?:e|ic)\b`)},
	{"bladder cancer", regexp.MustCompile(`(?i)\b(?:bladder|urothelial)\b`)},
	{"ovarian cancer", regexp.MustCompile(`(?i)\bovar(?:y|ian)\b`)},
	{"gastric cancer", regexp.MustCompile(`(?i)\b(?:gastric|stomach)\b`)},
	{"esophageal cancer", regexp.MustCompile(`(?i)\b(?:esophageal|oesophageal)\b`)},
	{"liver cancer", regexp.MustCompile(`(?i)\b(?:hepatocellular|liver|hcc)\b`)},
	{"melanoma", regexp.MustCompile(`(?i)\bmelanoma\b`)},
	{"multiple myeloma", regexp.MustCompile(`(?i)\bmyeloma\b`)},
	{"leukemia", regexp.MustCompile(`(?i)\b(?:leukemia|leukaemia|cll|aml)\b`)},
	{"lymphoma", regexp.MustCompile(`(?i)\blymphoma\b`)},
	{"head and neck cancer", regexp.MustCompile(`(?i)\bhead\s+and\s+neck\b`)},
	{"renal cancer", regexp.MustCompile(`(?i)\b(?:renal\s+cell|kidney\s+cancer)\b`)},
	{"merkel cell carcinoma", regexp.MustCompile(`(?i)\bmerkel\b`)},
}

const stageToken = `(?:[0IV]+|[0-4])[A-C]?`

var (
	stagePhrase = regexp.MustCompile(`(?i)\bstages?\s+(` + stageToken + `(?:\s*(?:-|–|to|through|and|or|,|/)\s*(?:stage\s+)?` + stageToken + `)*)\b`)
	stagePart   = regexp.MustCompile(`(?i)(` + stageToken + `)(?:\s*(-|–|to|through)\s*(?:stage\s+)?(` + stageToken + `))?`)
	tokenParts  = regexp.MustCompile(`(?i)^([0IV]+|[0-4])([A-C]?)$`)
)

var numerals = []string{"0", "I", "II", "III", "IV"}

func numeralIndex(s string) int {
	switch strings.ToUpper(s) {
	case "0":
		return 0
	case "I", "1":
		return 1
	case "II", "2":
		return 2
	case "III", "3":
		return 3
	case "IV", "4":
		return 4
	}
	return -1
}

type sectionSpan struct{ start, bodyStart, end int }

func sectionSpans(text string) []sectionSpan {
	type heading struct {
		start, end int
		tracked    bool
	}
	var hs []heading
	for _, loc := range trackedHeading.FindAllStringIndex(text, -1) {
		hs = append(hs, heading{loc[0], loc[1], true})
	}
	if len(hs) == 0 {
		return nil
	}
	for _, loc := range otherHeading.FindAllStringIndex(text, -1) {
		hs = append(hs, heading{loc[0], loc[1], false})
	}
	for _, loc := range bibliographyLabel.FindAllStringIndex(text, -1) {
		hs = append(hs, heading{loc[0], loc[1], false})
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].start < hs[j].start })

	var out []sectionSpan
	for i, h := range hs {
		if !h.tracked {
			continue
		}
		end := len(text)
		if i+1 < len(hs) {
			end = hs[i+1].start
		}
		out = append(out, sectionSpan{start: h.start, bodyStart: h.end, end: end})
	}
	return out
}

// Sections returns the bodies of coverage-relevant sections, each running
// from its heading to the next heading or the end of text.
func Sections(text string) []string {
	var out []string
	for _, sp := range sectionSpans(text) {
		if body := strings.TrimSpace(text[sp.bodyStart:sp.end]); body != "" {
			out = append(out, body)
		}
	}
	return out
}

// OutsideSections returns text with every coverage-relevant section,
// heading included, removed.
func OutsideSections(text string) string {
	var b strings.Builder
	prev := 0
	for _, sp := range sectionSpans(text) {
		b.WriteString(text[prev:sp.start])
		b.WriteString("\n\n")
		prev = sp.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Sentences splits text into trimmed, non-empty sentences.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StanceSentences returns sentences that carry coverage-stance language.
func StanceSentences(text string) []string {
	var out []string
	for _, s := range Sentences(text) {
		if criteriaKeyword.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

// CriteriaKeywordSpans returns the byte offsets of coverage-stance keywords
// in text.
func CriteriaKeywordSpans(text string) [][]int {
	return criteriaKeyword.FindAllStringIndex(text, -1)
}

// ExtractAllCriteria locates the criteria section and reads the coverage
// stance, cancer types, stages and prior-authorization requirement from it.
func ExtractAllCriteria(text string) model.Criteria {
	c := model.Criteria{Stance: model.StanceUnclear}
	if strings.TrimSpace(text) == "" {
		return c
	}

	section := strings.Join(Sections(text), "\n\n")
	if section == "" {
		section = strings.Join(StanceSentences(text), " ")
	}
	c.CriteriaSection = section

	c.Stance, c.StanceConfidence = DetectStance(section)

	scope := section
	if scope == "" {
		scope = text
	}
	c.CancerTypes = detectCancerTypes(scope)
	c.Stages = NormalizeStages(scope)
	c.PriorAuth = priorAuthPattern.MatchString(text)
	return c
}

// DetectStance classifies coverage language by priority: denies, restricts,
// supports, then unclear. Support is counted only outside denial phrases.
func DetectStance(text string) (model.Stance, float64) {
	if strings.TrimSpace(text) == "" {
		return model.StanceUnclear, 0
	}

	counts := map[model.Stance]int{}
	masked := text
	for _, r := range stanceRules {
		n := 0
		for _, re := range r.patterns {
			n += len(re.FindAllStringIndex(masked, -1))
		}
		counts[r.stance] = n
		if r.stance == model.StanceDenies {
			masked = maskAll(masked, denyPatterns)
		}
	}

	for _, r := range stanceRules {
		n := counts[r.stance]
		if n == 0 {
			continue
		}
		conf := math.Min(0.6+0.1*float64(n-1), 0.95)
		if counts[model.StanceSupports] > 0 && counts[model.StanceDenies] > 0 {
			conf -= 0.2
		}
		return r.stance, round2(math.Max(conf, 0.1))
	}
	return model.StanceUnclear, 0
}

func maskAll(text string, patterns []*regexp.Regexp) string {
	b := []byte(text)
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			for i := loc[0]; i < loc[1]; i++ {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

func detectCancerTypes(text string) []string {
	var out []string
	for _, ct := range cancerTypes {
		if ct.pattern.MatchString(text) {
			out = append(out, ct.name)
		}
	}
	return out
}

type stage struct {
	numeral int
	letter  string
}

func parseStage(tok string) (stage, bool) {
	m := tokenParts.FindStringSubmatch(strings.TrimSpace(tok))
	if m == nil {
		return stage{}, false
	}
	n := numeralIndex(m[1])
	if n < 0 {
		return stage{}, false
	}
	return stage{numeral: n, letter: strings.ToUpper(m[2])}, true
}

func (s stage) String() string { return numerals[s.numeral] + s.letter }

// NormalizeStages finds stage mentions and returns them as roman numerals with
// sub-letters, expanding ranges such as "II-III" or "stage 2 to 4".
func NormalizeStages(text string) []string {
	set := map[stage]bool{}
	for _, phrase := range stagePhrase.FindAllStringSubmatch(text, -1) {
		for _, part := range stagePart.FindAllStringSubmatch(phrase[1], -1) {
			from, ok := parseStage(part[1])
			if !ok {
				continue
			}
			if part[3] == "" {
				set[from] = true
				continue
			}
			to, ok := parseStage(part[3])
			if !ok || to.numeral < from.numeral {
				set[from] = true
				continue
			}
			set[from] = true
			set[to] = true
			for n := from.numeral + 1; n < to.numeral; n++ {
				set[stage{numeral: n}] = true
			}
		}
	}

	keys := make([]stage, 0, len(set))
	for s := range set {
		keys = append(keys, s)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].numeral != keys[j].numeral {
			return keys[i].numeral < keys[j].numeral
		}
		return keys[i].letter < keys[j].letter
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
