package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/coverage-intel/internal/model"
)

// Known date fields, in the order ExtractAllDates reports them.
const (
	FieldEffective = "effective"
	FieldPublished = "published"
	FieldRevised   = "revised"
	FieldRetired   = "retired"
)

// KnownDateFields lists the fields with built-in keyword patterns.
var KnownDateFields = []string{FieldEffective, FieldPublished, FieldRevised, FieldRetired}

var fieldKeywords = map[string]*regexp.Regexp{
	FieldEffective: regexp.MustCompile(`(?i)\beffective(?:\s+date)?\b|\beff\.?\s+date\b`),
	FieldPublished: regexp.MustCompile(`(?i)\bpublished\b|\bpublication\s+date\b|\bposted\b`),
	FieldRevised:   regexp.MustCompile(`(?i)\brevised\b|\brevision\s+date\b|\blast\s+updated\b`),
	FieldRetired:   regexp.MustCompile(`(?i)\bretired\b|\bretirement\s+date\b|\bterminat(?:ed|ion)\s+date\b`),
}

// dateWindow is how far past the keyword a date may appear.
const dateWindow = 120

const monthNames = `(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sept?(?:ember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

type dateRule struct {
	name      string
	precision model.DatePrecision
	pattern   *regexp.Regexp
	parse     func(m []string) (start, end time.Time, ok bool)
}

// dateRules are tried in order; within a window the earliest match wins and
// ties go to the earlier rule.
var dateRules = []dateRule{
	{
		name:      "iso",
		precision: model.PrecisionDay,
		pattern:   regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return day(atoi(m[1]), atoi(m[2]), atoi(m[3]))
		},
	},
	{
		name:      "month-day-year",
		precision: model.PrecisionDay,
		pattern:   regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return day(atoi(m[3]), monthNumber(m[1]), atoi(m[2]))
		},
	},
	{
		name:      "day-month-year",
		precision: model.PrecisionDay,
		pattern:   regexp.MustCompile(`(?i)\b(\d{1,2})\s+` + monthNames + `\.?,?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return day(atoi(m[3]), monthNumber(m[2]), atoi(m[1]))
		},
	},
	{
		name:      "us-numeric",
		precision: model.PrecisionDay,
		pattern:   regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return day(atoi(m[3]), atoi(m[1]), atoi(m[2]))
		},
	},
	{
		name:      "q-quarter",
		precision: model.PrecisionQuarter,
		pattern:   regexp.MustCompile(`(?i)\bQ([1-4])\s*,?\s*(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return quarter(atoi(m[2]), atoi(m[1]))
		},
	},
	{
		name:      "ordinal-quarter",
		precision: model.PrecisionQuarter,
		pattern:   regexp.MustCompile(`(?i)\b([1-4])(?:st|nd|rd|th)\s+quarter(?:\s+of)?\s*,?\s*(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return quarter(atoi(m[2]), atoi(m[1]))
		},
	},
	{
		name:      "word-quarter",
		precision: model.PrecisionQuarter,
		pattern:   regexp.MustCompile(`(?i)\b(first|second|third|fourth)\s+quarter(?:\s+of)?\s*,?\s*(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			q := map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4}[strings.ToLower(m[1])]
			return quarter(atoi(m[2]), q)
		},
	},
	{
		name:      "month-year",
		precision: model.PrecisionMonth,
		pattern:   regexp.MustCompile(`(?i)\b` + monthNames + `\.?,?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return month(atoi(m[2]), monthNumber(m[1]))
		},
	},
	{
		name:      "numeric-month-year",
		precision: model.PrecisionMonth,
		pattern:   regexp.MustCompile(`\b(\d{1,2})/(\d{4})\b`),
		parse: func(m []string) (time.Time, time.Time, bool) {
			return month(atoi(m[2]), atoi(m[1]))
		},
	},
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func monthNumber(name string) int {
	if len(name) < 3 {
		return -1
	}
	switch strings.ToLower(name[:3]) {
	case "jan":
		return 1
	case "feb":
		return 2
	case "mar":
		return 3
	case "apr":
		return 4
	case "may":
		return 5
	case "jun":
		return 6
	case "jul":
		return 7
	case "aug":
		return 8
	case "sep":
		return 9
	case "oct":
		return 10
	case "nov":
		return 11
	case "dec":
		return 12
	}
	return -1
}

func validYear(y int) bool { return y >= 1900 && y <= 2199 }

func day(y, m, d int) (time.Time, time.Time, bool) {
	if !validYear(y) || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, time.Time{}, false
	}
	return t, t, true
}

func month(y, m int) (time.Time, time.Time, bool) {
	if !validYear(y) || m < 1 || m > 12 {
		return time.Time{}, time.Time{}, false
	}
	start := time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1), true
}

func quarter(y, q int) (time.Time, time.Time, bool) {
	if !validYear(y) || q < 1 || q > 4 {
		return time.Time{}, time.Time{}, false
	}
	start := time.Date(y, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, -1), true
}

const isoDay = "2006-01-02"

func keywordPattern(field string) *regexp.Regexp {
	if re, ok := fieldKeywords[strings.ToLower(field)]; ok {
		return re
	}
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(field))
}

// ExtractDateWithPrecision finds the date written after the field keyword,
// keeping the precision it was written in. Quarter and month dates carry the
// calendar range they cover. Returns nil when the keyword or a date is absent.
func ExtractDateWithPrecision(text, field string) *model.DateFact {
	if strings.TrimSpace(field) == "" || text == "" {
		return nil
	}
	kw := keywordPattern(field)
	for _, loc := range kw.FindAllStringIndex(text, -1) {
		end := loc[1] + dateWindow
		if end > len(text) {
			end = len(text)
		}
		if f := scanWindow(text[loc[1]:end], field); f != nil {
			return f
		}
	}
	return nil
}

func scanWindow(window, field string) *model.DateFact {
	var (
		best      *model.DateFact
		bestStart = -1
	)
	for _, r := range dateRules {
		for _, m := range r.pattern.FindAllStringSubmatchIndex(window, -1) {
			if bestStart >= 0 && m[0] >= bestStart {
				break
			}
			groups := submatches(window, m)
			start, stop, ok := r.parse(groups)
			if !ok {
				continue
			}
			f := &model.DateFact{
				Field:     field,
				Value:     start.Format(isoDay),
				Precision: r.precision,
				Original:  groups[0],
			}
			if r.precision != model.PrecisionDay {
				f.Range = &model.DateRange{Start: start.Format(isoDay), End: stop.Format(isoDay)}
			}
			best, bestStart = f, m[0]
			break
		}
	}
	return best
}

func submatches(s string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = s[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

// ExtractAllDates runs ExtractDateWithPrecision for every known field.
func ExtractAllDates(text string) []model.DateFact {
	var out []model.DateFact
	for _, field := range KnownDateFields {
		if f := ExtractDateWithPrecision(text, field); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func span(f *model.DateFact) (string, string) {
	if f.Range != nil {
		return f.Range.Start, f.Range.End
	}
	return f.Value, f.Value
}

// DatesOverlap reports whether two extracted dates can refer to the same
// time. Nil on either side never overlaps.
func DatesOverlap(a, b *model.DateFact) bool {
	if a == nil || b == nil {
		return false
	}
	aStart, aEnd := span(a)
	bStart, bEnd := span(b)
	if aStart == "" || bStart == "" {
		return false
	}
	return aStart <= bEnd && bStart <= aEnd
}
