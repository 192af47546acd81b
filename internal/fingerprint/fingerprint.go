// Package fingerprint computes change-detection fingerprints and relevance
// scores for policy documents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/model"
)

// Change describes what differs between two fingerprints.
type Change string

const (
	Unchanged    Change = "unchanged"
	ProseChanged Change = "prose"
	CodesChanged Change = "codes"
	BothChanged  Change = "both"
)

// Normalize folds text to a canonical form: NFKC, lowercase, punctuation and
// symbols replaced by spaces, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Lower(language.Und).String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// stanceWindow is the number of words kept on each side of a stance keyword
// found outside the tracked sections.
const stanceWindow = 6

// GetHashableContent extracts the coverage-relevant text of a document:
// tracked sections plus word windows around stance keywords found outside
// them, deduplicated and normalized. Formatting-only edits leave it unchanged.
func GetHashableContent(text string) string {
	seen := map[string]bool{}
	var parts []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		parts = append(parts, n)
	}

	for _, body := range extract.Sections(text) {
		add(Normalize(body))
	}
	for _, w := range stanceWindows(Normalize(extract.OutsideSections(text))) {
		add(w)
	}
	return Normalize(strings.Join(parts, " "))
}

// stanceWindows cuts normalized text into merged word windows around each
// stance keyword. Windows are taken on normalized words so sentence and
// paragraph boundaries do not affect them.
func stanceWindows(normalized string) []string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return nil
	}
	// starts[i] is the byte offset of words[i]; Normalize leaves single spaces.
	starts := make([]int, len(words))
	off := 0
	for i, w := range words {
		starts[i] = off
		off += len(w) + 1
	}
	wordAt := func(pos int) int {
		return sort.Search(len(starts), func(i int) bool { return starts[i] > pos }) - 1
	}

	var out []string
	from, to := -1, -1
	flush := func() {
		if from >= 0 {
			out = append(out, strings.Join(words[from:to+1], " "))
		}
	}
	for _, loc := range extract.CriteriaKeywordSpans(normalized) {
		lo := max(wordAt(loc[0])-stanceWindow, 0)
		hi := min(wordAt(loc[1]-1)+stanceWindow, len(words)-1)
		if from >= 0 && lo <= to+1 {
			to = max(to, hi)
			continue
		}
		flush()
		from, to = lo, hi
	}
	flush()
	return out
}

// GetCodesFingerprint returns the sorted, comma-joined union of all codes.
func GetCodesFingerprint(codes model.Codes) string {
	set := map[string]bool{}
	for _, c := range codes.All() {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			set[c] = true
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// ContentHash returns the hex SHA-256 of s.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Compute builds the fingerprint for a document's text and extracted codes.
func Compute(text string, codes model.Codes) model.Fingerprint {
	h := GetHashableContent(text)
	return model.Fingerprint{
		HashableText:     h,
		CodesFingerprint: GetCodesFingerprint(codes),
		ContentHash:      ContentHash(h),
	}
}

// Compare reports which parts of a document changed between two fingerprints.
func Compare(prev, next model.Fingerprint) Change {
	prose := proseKey(prev) != proseKey(next)
	codes := prev.CodesFingerprint != next.CodesFingerprint
	switch {
	case prose && codes:
		return BothChanged
	case prose:
		return ProseChanged
	case codes:
		return CodesChanged
	default:
		return Unchanged
	}
}

func proseKey(f model.Fingerprint) string {
	if f.ContentHash != "" {
		return f.ContentHash
	}
	return ContentHash(f.HashableText)
}
