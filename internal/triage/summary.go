package triage

import (
	"fmt"
	"strings"

	"github.com/sells-group/coverage-intel/internal/model"
)

// FormatRunSummary renders a run as a plain-text digest grouped by priority.
func FormatRunSummary(r model.RunResult) string {
	var b strings.Builder
	bk := r.Buckets

	if bk.Total() == 0 {
		b.WriteString("No discoveries triaged.\n")
	} else {
		fmt.Fprintf(&b, "Triaged %d discoveries\n", bk.Total())
		fmt.Fprintf(&b, "  High: %d\n", len(bk.HighPriority))
		fmt.Fprintf(&b, "  Medium: %d\n", len(bk.MediumPriority))
		fmt.Fprintf(&b, "  Low: %d\n", len(bk.LowPriority))
		fmt.Fprintf(&b, "  Ignored: %d\n", len(bk.Ignored))
	}
	fmt.Fprintf(&b, "Judgment calls: %d (%d in / %d out tokens, $%.4f)\n",
		r.Ledger.Calls, r.Ledger.InputTokens, r.Ledger.OutputTokens, r.CostUSD)
	fmt.Fprintf(&b, "Failures: %d\n", r.FailureCount)

	section(&b, "HIGH PRIORITY", bk.HighPriority, true)
	section(&b, "MEDIUM PRIORITY", bk.MediumPriority, true)
	section(&b, "LOW PRIORITY", bk.LowPriority, false)
	section(&b, "IGNORED", bk.Ignored, false)

	if len(r.Failures) > 0 {
		b.WriteString("\nFAILURES\n")
		b.WriteString(strings.Repeat("-", 50) + "\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  • %s [%s] %s\n", f.DiscoveryID, f.Stage, f.Reason)
		}
	}
	return b.String()
}

func section(b *strings.Builder, title string, items []model.PrioritizedItem, detailed bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d)\n", title, len(items))
	if !detailed {
		b.WriteString(strings.Repeat("-", 50) + "\n")
		for _, pi := range items {
			fmt.Fprintf(b, "  • %s - %s\n", headline(pi.Item), pi.Reason)
		}
		return
	}

	b.WriteString(strings.Repeat("=", 50) + "\n")
	for _, pi := range items {
		it := pi.Item
		fmt.Fprintf(b, "\n  %s\n", headline(it))
		fmt.Fprintf(b, "     Source: %s | Kind: %s | Reason: %s\n", it.Discovery.Source, orUnknown(it.Classification.Kind()), pi.Reason)
		if s := it.Classification.Summary; s != "" {
			fmt.Fprintf(b, "     Summary: %s\n", s)
		}
		if ex := it.Extraction; ex != nil && ex.Error == "" {
			if ex.Category != "" {
				fmt.Fprintf(b, "     Category: %s\n", ex.Category)
			}
			if ex.IsNewTest {
				b.WriteString("     New test\n")
			}
			if ex.Draft != nil && len(ex.Draft.MissingFields) > 0 {
				fmt.Fprintf(b, "     Missing: %s\n", strings.Join(ex.Draft.MissingFields, ", "))
			}
		}
		if a := it.Action; a != nil && a.Error == "" && a.ActionCommand != "" {
			fmt.Fprintf(b, "     Action: %s (confidence %.0f%%)\n", a.ActionCommand, a.Confidence*100)
		}
		if it.Discovery.URL != "" {
			fmt.Fprintf(b, "     URL: %s\n", it.Discovery.URL)
		}
	}
}

func headline(it model.ItemResult) string {
	if it.Extraction != nil && it.Extraction.TestName != "" {
		return it.Extraction.TestName
	}
	if it.Discovery.Title != "" {
		return it.Discovery.Title
	}
	return it.Discovery.ID
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
