package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/coverage-intel/internal/model"
)

// requiredFields lists, per category, the fields a new-test submission must
// carry before a curator can accept it.
var requiredFields = map[string][]string{
	"MRD": {"sensitivity", "specificity", "lod", "initialTat", "followUpTat"},
	"ECD": {"sensitivity", "specificity"},
	"TRM": {"tat"},
	"TDS": {"tat"},
}

// fdaStatuses maps free-text regulatory phrases to canonical values, in
// match order.
var fdaStatuses = []struct{ phrase, value string }{
	{"510(k) cleared", "FDA 510(k)"},
	{"pma approved", "FDA PMA"},
	{"fda approved", "FDA approved"},
	{"clia ldt", "CLIA LDT"},
	{"ce-ivd", "CE-IVD"},
	{"ruo", "RUO"},
}

// extractedKeys maps extraction payload keys onto draft field names.
var extractedKeys = map[string]string{
	"sensitivity":   "sensitivity",
	"specificity":   "specificity",
	"lod":           "lod",
	"tat":           "tat",
	"initial_tat":   "initialTat",
	"follow_up_tat": "followUpTat",
	"ppv":           "ppv",
	"npv":           "npv",
	"genes":         "genesAnalyzed",
}

// DraftSubmission builds a new-test submission skeleton from an extraction.
// It returns nil unless the extraction names a new test in a known category.
func DraftSubmission(ex model.SourceExtraction, d model.Discovery, now time.Time) *model.Draft {
	category := strings.ToUpper(strings.TrimSpace(ex.Category))
	required, ok := requiredFields[category]
	if !ok || !ex.IsNewTest || ex.Error != "" {
		return nil
	}

	data := ex.ExtractedData
	fields := map[string]any{
		"name":           ex.TestName,
		"vendor":         stringValue(data, "vendor"),
		"method":         stringValue(data, "methodology"),
		"sampleCategory": "Blood/Plasma",
		"cancerTypes":    listValue(data, "cancer_types"),
		"fdaStatus":      "CLIA LDT",
		"reimbursement":  "Coverage emerging",
	}
	if d.URL != "" {
		fields["methodCitations"] = d.URL
	}

	fda := strings.ToLower(stringValue(data, "fda_status"))
	for _, s := range fdaStatuses {
		if strings.Contains(fda, s.phrase) {
			fields["fdaStatus"] = s.value
			break
		}
	}
	if cleared := stringValue(data, "clearance_date"); cleared != "" {
		fields["fdaStatusNotes"] = "Cleared/approved " + cleared
	}

	switch category {
	case "MRD":
		approach := strings.ToLower(stringValue(data, "approach"))
		switch {
		case strings.Contains(approach, "informed"):
			fields["approach"] = "Tumor-informed"
			fields["requiresTumorTissue"] = "Yes"
		case strings.Contains(approach, "naive"), strings.Contains(approach, "naïve"):
			fields["approach"] = "Tumor-naïve"
			fields["requiresTumorTissue"] = "No"
		}
	case "TDS":
		if bm := listValue(data, "biomarkers"); len(bm) > 0 {
			fields["biomarkers"] = bm
		}
	}

	for key, field := range extractedKeys {
		if v, ok := data[key]; ok && present(v) {
			fields[field] = v
		}
	}

	fields["vendorRequestedChanges"] = fmt.Sprintf("%s: Auto-discovered from %s. Source: %s. Needs verification.",
		now.Format(time.DateOnly), d.Source, d.URL)

	missing := []string{}
	for _, f := range required {
		if !present(fields[f]) {
			missing = append(missing, f)
		}
	}

	return &model.Draft{Category: category, Fields: fields, MissingFields: missing}
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func stringValue(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func listValue(data map[string]any, key string) []string {
	out := []string{}
	switch v := data[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
