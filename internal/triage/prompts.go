package triage

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/coverage-intel/internal/extract"
	"github.com/sells-group/coverage-intel/internal/model"
)

// maxDataChars bounds the raw discovery payload embedded in a prompt.
const maxDataChars = 6000

const categoryPrimer = `The database tracks liquid biopsy and molecular diagnostic tests in four categories:
- MRD (Minimal Residual Disease): monitors for recurrence after treatment
- ECD (Early Cancer Detection): screens asymptomatic individuals
- TRM (Treatment Response Monitoring): tracks response to therapy
- TDS (Treatment Decision Support): guides therapy selection from tumor profiling`

const classifySystemPrompt = `You triage discoveries for a curated cancer diagnostic test database.
` + categoryPrimer + `

Respond with ONLY a JSON object:
{"priority": "high|medium|low", "classification": "new_test|test_update|coverage_change|policy_document|delegation_change|ignore", "confidence": 0.0-1.0, "affected_tests": ["test ids"], "summary": "one sentence", "reasoning": "brief"}

Use "ignore" for pure academic research, tissue-only tests and anything outside cancer diagnostics.`

const extractSystemPrompt = `You extract structured test data from papers and press releases for a curated cancer diagnostic test database.
` + categoryPrimer + `

Respond with ONLY a JSON object:
{"test_name": "official name or null", "test_id": "known id or null", "is_new_test": true|false, "category": "MRD|ECD|TRM|TDS", "extracted_data": {"vendor": "", "cancer_types": [], "methodology": "", "approach": "", "fda_status": "", "clearance_date": "", "biomarkers": [], "sensitivity": null, "specificity": null, "lod": null, "tat": null}, "citation": "formatted citation", "data_quality": "high|medium|low"}

Only report performance figures that are stated in the source.`

const actionSystemPrompt = `You draft change instructions for curators of a cancer diagnostic test database.

Respond with ONLY a JSON object:
{"action_command": "imperative instruction", "field_updates": {"field": "new value"}, "citation_text": "source citation", "requires_verification": true|false, "confidence": 0.0-1.0}

Set requires_verification to false only when the source is the vendor's own regulatory filing or a payer's published policy.`

const batchSystemPrompt = `You classify batches of %s discoveries for a curated cancer diagnostic test database.
` + categoryPrimer + `

Respond with ONLY a JSON array with one object per input item, in input order:
[{"id": "input id", "category": "new_test|test_update|coverage_change|policy_document|delegation_change|irrelevant", "relevance": "high|medium|low", "relevance_score": 0.0-1.0, "confidence": 0.0-1.0, "affected_tests": ["test ids"], "summary": "one sentence"}]

Use category "irrelevant" with relevance_score 0 for items outside cancer diagnostics.`

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... [truncated]"
}

func discoveryData(d model.Discovery) string {
	if len(d.Data) == 0 {
		return "{}"
	}
	raw, err := json.MarshalIndent(d.Data, "", "  ")
	if err != nil {
		return "{}"
	}
	return truncate(string(raw), maxDataChars)
}

func describe(b *strings.Builder, d model.Discovery) {
	fmt.Fprintf(b, "ID: %s\nSOURCE: %s\nTYPE: %s\nTITLE: %s\n", d.ID, d.Source, d.Type, d.Title)
	if d.URL != "" {
		fmt.Fprintf(b, "URL: %s\n", d.URL)
	}
	if d.Summary != "" {
		fmt.Fprintf(b, "SUMMARY: %s\n", d.Summary)
	}
}

func itemPrompt(d model.Discovery) string {
	var b strings.Builder
	describe(&b, d)
	fmt.Fprintf(&b, "\nRAW DATA:\n%s\n", discoveryData(d))
	return b.String()
}

func actionPrompt(d model.Discovery, ex *model.SourceExtraction) string {
	var b strings.Builder
	describe(&b, d)
	if ex != nil && ex.Error == "" {
		raw, err := json.MarshalIndent(ex, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\nEXTRACTED DATA:\n%s\n", truncate(string(raw), maxDataChars))
		}
	} else {
		fmt.Fprintf(&b, "\nRAW DATA:\n%s\n", discoveryData(d))
	}
	return b.String()
}

// batchEntry is one discovery in a batch prompt. Facts is set for payer
// items carrying document content.
type batchEntry struct {
	ID      string              `json:"id"`
	Source  string              `json:"source"`
	Type    string              `json:"type,omitempty"`
	Title   string              `json:"title"`
	Summary string              `json:"summary,omitempty"`
	URL     string              `json:"url,omitempty"`
	Facts   *extract.PayerFacts `json:"extracted_facts,omitempty"`
}

func batchPrompt(entries []batchEntry) string {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		raw = []byte("[]")
	}
	return fmt.Sprintf("Classify these %d items:\n%s\n", len(entries), raw)
}
