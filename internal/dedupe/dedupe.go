// Package dedupe filters incoming discoveries against ones already stored and
// tags discoveries that name a known test.
package dedupe

import (
	"maps"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/coverage-intel/internal/model"
)

// KnownTestKey is the Data key set on discoveries whose title names a known test.
const KnownTestKey = "known_test_id"

// minPartialLen is the shortest known name allowed to match by containment.
// Shorter names ("ctdna", vendor initials) match only exactly.
const minPartialLen = 6

var fold = cases.Fold()

// Marks are stripped before NFKC, which would expand ™ to "TM".
var markReplacer = strings.NewReplacer("®", "", "™", "", "℠", "")

var separatorReplacer = strings.NewReplacer("-", " ", "_", " ")

// NormalizeName canonicalizes a test or vendor name for comparison.
func NormalizeName(name string) string {
	s := markReplacer.Replace(name)
	s = norm.NFKC.String(s)
	s = fold.String(s)
	s = separatorReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// matchKey is NormalizeName with punctuation and symbols turned into spaces,
// so "Signatera:" and "(Signatera)" compare equal to "signatera".
func matchKey(name string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, NormalizeName(name))
	return strings.Join(strings.Fields(s), " ")
}

// Normalizer remembers discovery ids already seen and the known test names.
// It is not safe for concurrent use.
type Normalizer struct {
	seen  map[string]bool
	names []knownName
	exact map[string]string
}

type knownName struct {
	norm   string
	testID string
}

// New builds a Normalizer from stored discovery ids and the known tests.
func New(seenIDs []string, tests []model.TestRecord) *Normalizer {
	n := &Normalizer{
		seen:  make(map[string]bool, len(seenIDs)),
		exact: make(map[string]string, len(tests)),
	}
	for _, id := range seenIDs {
		n.seen[id] = true
	}
	for _, t := range tests {
		key := matchKey(t.Name)
		if key == "" {
			continue
		}
		if _, dup := n.exact[key]; dup {
			continue
		}
		n.exact[key] = t.ID
		n.names = append(n.names, knownName{norm: key, testID: t.ID})
	}
	return n
}

// Filter returns the discoveries not seen before, in input order, and marks
// them seen. Duplicates within ds keep the first occurrence. Kept discoveries
// whose title names a known test get Data[KnownTestKey] set.
func (n *Normalizer) Filter(ds []model.Discovery) []model.Discovery {
	out := make([]model.Discovery, 0, len(ds))
	dropped := 0
	for _, d := range ds {
		if d.ID == "" || n.seen[d.ID] {
			dropped++
			continue
		}
		n.seen[d.ID] = true
		if id, ok := n.KnownTest(d.Title); ok {
			d.Data = withKey(d.Data, KnownTestKey, id)
		}
		out = append(out, d)
	}
	if dropped > 0 {
		zap.L().Info("dedupe: dropped seen discoveries",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(out)),
		)
	}
	return out
}

// KnownTest reports the id of the known test a title names, matching exactly
// or by containment for longer names.
func (n *Normalizer) KnownTest(title string) (string, bool) {
	t := matchKey(title)
	if t == "" {
		return "", false
	}
	if id, ok := n.exact[t]; ok {
		return id, true
	}
	for _, k := range n.names {
		if len(k.norm) < minPartialLen {
			continue
		}
		if containsWord(t, k.norm) {
			return k.testID, true
		}
	}
	return "", false
}

// containsWord reports whether needle appears in s on word boundaries.
func containsWord(s, needle string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(needle)
		if (start == 0 || s[start-1] == ' ') && (end == len(s) || s[end] == ' ') {
			return true
		}
		i = start + 1
	}
}

// withKey copies data before setting key so callers' maps are not mutated.
func withKey(data map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(data)+1)
	maps.Copy(out, data)
	out[key] = v
	return out
}
