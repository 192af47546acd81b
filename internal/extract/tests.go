package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/registry"
)

// Context weights for named-test mentions.
const (
	WeightBibliography = 0.3
	WeightCoverage     = 1.5
	WeightNeutral      = 1.0
)

// contextWindow is the span searched on each side of a mention for coverage language.
const contextWindow = 200

var (
	bibliographyHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:references|bibliography|works cited|literature cited)[ \t]*:?[ \t]*$`)
	// bibliographyLabel is the inline form common in PDF conversions:
	// "References: 1. Smith J ..." on a single line.
	bibliographyLabel = regexp.MustCompile(`(?im)^[ \t]*(?:#+[ \t]*)?(?:references|bibliography|works cited|literature cited)[ \t]*:[ \t]*\S`)
	citationLine        = regexp.MustCompile(`(?i)\bet al\b\.?|\bdoi\b|doi\.org|\bpmid\b`)
	coverageLanguage    = regexp.MustCompile(`(?i)\b(?:medically necessary|medical necessity|coverage|covered|reimburs\w*|prior authorization|reasonable and necessary|coverage criteria|indicated for)\b`)
)

type mention struct {
	start  int
	weight float64
	bib    bool
}

// ExtractTestsWithContext finds registry tests named in text and weights each
// mention by where it appears: bibliography mentions count little, mentions
// near coverage language count more. Results are ordered by weighted score,
// then by first appearance.
func ExtractTestsWithContext(reg *registry.Registry, text string) []model.NamedTest {
	if reg == nil || text == "" {
		return nil
	}

	bibStart := bibliographyStart(text)

	var out []model.NamedTest
	for _, m := range reg.Matchers() {
		seen := map[int]bool{}
		var mentions []mention
		for _, re := range m.Patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				if seen[loc[0]] {
					continue
				}
				seen[loc[0]] = true
				mentions = append(mentions, classifyMention(text, loc[0], loc[1], bibStart))
			}
		}
		if len(mentions) == 0 {
			continue
		}

		nt := model.NamedTest{
			ID:                 m.Test.ID,
			Name:               m.Test.Name,
			Vendor:             m.Test.Vendor,
			MatchCount:         len(mentions),
			LikelyBibliography: true,
			FirstIndex:         len(text),
		}
		for _, mn := range mentions {
			nt.WeightedScore += mn.weight
			if !mn.bib {
				nt.LikelyBibliography = false
			}
			if mn.start < nt.FirstIndex {
				nt.FirstIndex = mn.start
			}
		}
		nt.WeightedScore = round2(nt.WeightedScore)
		nt.Weight = round2(nt.WeightedScore / float64(nt.MatchCount))
		out = append(out, nt)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WeightedScore != out[j].WeightedScore {
			return out[i].WeightedScore > out[j].WeightedScore
		}
		return out[i].FirstIndex < out[j].FirstIndex
	})
	return out
}

// bibliographyStart returns the offset where the references block begins, or
// -1 when there is none.
func bibliographyStart(text string) int {
	start := -1
	for _, re := range []*regexp.Regexp{bibliographyHeading, bibliographyLabel} {
		if loc := re.FindStringIndex(text); loc != nil && (start < 0 || loc[0] < start) {
			start = loc[0]
		}
	}
	return start
}

func classifyMention(text string, start, end, bibStart int) mention {
	if bibStart >= 0 && start >= bibStart {
		return mention{start: start, weight: WeightBibliography, bib: true}
	}
	if citationLine.MatchString(lineAround(text, start, end)) {
		return mention{start: start, weight: WeightBibliography, bib: true}
	}
	lo, hi := start-contextWindow, end+contextWindow
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if coverageLanguage.MatchString(text[lo:hi]) {
		return mention{start: start, weight: WeightCoverage}
	}
	return mention{start: start, weight: WeightNeutral}
}

func lineAround(text string, start, end int) string {
	lo := strings.LastIndexByte(text[:start], '\n') + 1
	hi := strings.IndexByte(text[end:], '\n')
	if hi < 0 {
		return text[lo:]
	}
	return text[lo : end+hi]
}
