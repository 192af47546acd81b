package proposal

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/metrics"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/store"
)

// NotFoundWarning marks an instruction whose test is missing from the dataset.
const NotFoundWarning = "NOT FOUND — verify manually"

// Instruction is the curator-facing block for one approved proposal.
type Instruction struct {
	ProposalID string             `json:"proposalId"`
	Type       model.ProposalType `json:"type"`
	Title      string             `json:"title"`
	Steps      []string           `json:"steps"`
	Evidence   []model.SourceRef  `json:"evidence,omitempty"`
	Confidence float64            `json:"confidence"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// PatchResult describes a generated patch artifact. PatchPath is empty when
// there were no approved proposals and nothing was written.
type PatchResult struct {
	PatchPath    string           `json:"patchPath"`
	Proposals    []model.Proposal `json:"proposals"`
	Instructions []Instruction    `json:"instructions"`
}

// GeneratePatch renders every approved proposal into a Markdown artifact in
// the output directory.
func (s *Service) GeneratePatch(ctx context.Context) (*PatchResult, error) {
	approved, err := s.store.ListByStatus(ctx, model.ProposalApproved)
	if err != nil {
		return nil, eris.Wrap(err, "proposal: generate patch")
	}
	res := &PatchResult{Proposals: approved}
	if len(approved) == 0 {
		zap.L().Info("proposal: no approved proposals, no patch written")
		return res, nil
	}

	for _, p := range approved {
		res.Instructions = append(res.Instructions, s.instruction(p))
	}

	now := s.now().UTC()
	doc := renderPatch(now, approved, res.Instructions)
	path := filepath.Join(s.outputDir, fmt.Sprintf("patch-%s.md", now.Format("20060102-150405")))
	if err := store.WriteFileAtomic(path, []byte(doc), 0o644); err != nil {
		return nil, eris.Wrap(err, "proposal: write patch")
	}
	res.PatchPath = path

	metrics.Get().PatchesGenerated.Inc()
	zap.L().Info("proposal: patch written",
		zap.String("path", path),
		zap.Int("proposals", len(approved)),
	)
	return res, nil
}

func (s *Service) instruction(p model.Proposal) Instruction {
	in := Instruction{
		ProposalID: p.ID,
		Type:       p.Type,
		Title:      title(p),
		Evidence:   p.Sources,
		Confidence: p.Confidence,
	}

	switch p.Type {
	case model.ProposalCoverage:
		for _, cu := range p.CoverageUpdates {
			in.Steps = append(in.Steps, coverageStep(cu))
		}
	case model.ProposalUpdate:
		for _, fc := range p.Changes {
			step := fmt.Sprintf("Set `%s` to %s", fc.Field, quoted(fc.NewValue))
			if fc.OldValue != nil {
				step += fmt.Sprintf(" (was %s)", quoted(fc.OldValue))
			}
			in.Steps = append(in.Steps, step)
		}
		if len(p.Changes) == 0 {
			in.Steps = append(in.Steps, "Review the source and update the affected fields by hand")
		}
	case model.ProposalNewTest:
		in.Steps = append(in.Steps, newTestSteps(p)...)
	case model.ProposalDocumentCandidate:
		if d := p.Document; d != nil {
			in.Steps = append(in.Steps, fmt.Sprintf("Track %s document %q at %s", orUnknown(d.Payer), d.Title, d.URL))
		}
	case model.ProposalDelegationChange:
		if d := p.Delegation; d != nil {
			step := fmt.Sprintf("Record that %s delegates lab benefit management to %s", d.Payer, d.Delegate)
			if d.EffectiveDate != "" {
				step += ", effective " + d.EffectiveDate
			}
			in.Steps = append(in.Steps, step)
		}
	case model.ProposalCoverageAssertion:
		if a := p.Assertion; a != nil {
			in.Steps = append(in.Steps, fmt.Sprintf("Record %s stance %q", orUnknown(a.Payer), a.Stance))
			if a.Quote != "" {
				in.Steps = append(in.Steps, "Quote: "+a.Quote)
			}
		}
	}

	in.Warnings = s.warnings(p)
	return in
}

func (s *Service) warnings(p model.Proposal) []string {
	if !p.Type.AffectsDataset() {
		return nil
	}
	if p.Type == model.ProposalNewTest {
		if p.TestID == "" {
			return nil
		}
		if _, ok := s.lookup(p.TestID); ok {
			return []string{fmt.Sprintf("test %s already exists in the dataset; confirm this is not an update", p.TestID)}
		}
		return nil
	}
	if p.TestID == "" {
		return []string{"no test id on proposal: " + NotFoundWarning}
	}
	if _, ok := s.lookup(p.TestID); !ok {
		return []string{fmt.Sprintf("test %s %s", p.TestID, NotFoundWarning)}
	}
	return nil
}

func (s *Service) lookup(id string) (model.TestRecord, bool) {
	if s.dataset == nil {
		return model.TestRecord{}, false
	}
	return s.dataset.LookupTest(id)
}

func title(p model.Proposal) string {
	name := p.TestName
	if name == "" {
		name = p.TestID
	}
	if name != "" && p.TestID != "" && name != p.TestID {
		name = fmt.Sprintf("%s (%s)", name, p.TestID)
	}
	label := typeLabels[p.Type]
	if label == "" {
		label = string(p.Type)
	}
	switch {
	case name != "":
		return label + ": " + name
	case p.Document != nil:
		return label + ": " + p.Document.Title
	case p.Delegation != nil:
		return label + ": " + p.Delegation.Payer
	case p.Assertion != nil:
		return label + ": " + orUnknown(p.Assertion.Payer)
	default:
		return label
	}
}

var typeLabels = map[model.ProposalType]string{
	model.ProposalCoverage:          "Coverage update",
	model.ProposalUpdate:            "Field update",
	model.ProposalNewTest:           "New test",
	model.ProposalDocumentCandidate: "Document candidate",
	model.ProposalDelegationChange:  "Delegation change",
	model.ProposalCoverageAssertion: "Coverage assertion",
}

func coverageStep(cu model.CoverageUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Set coverage for %s", cu.Payer)
	if cu.PolicyID != "" {
		fmt.Fprintf(&b, " (policy %s)", cu.PolicyID)
	}
	fmt.Fprintf(&b, " to %q", cu.Status)
	if cu.EffectiveDate != "" {
		fmt.Fprintf(&b, ", effective %s", cu.EffectiveDate)
	}
	if cu.Notes != "" {
		fmt.Fprintf(&b, ". Notes: %s", cu.Notes)
	}
	return b.String()
}

func newTestSteps(p model.Proposal) []string {
	steps := []string{fmt.Sprintf("Add new test %q", orUnknown(p.TestName))}
	if p.Draft == nil {
		return append(steps, "No draft attached; build the submission from the source")
	}
	steps[0] += " in category " + p.Draft.Category
	keys := make([]string, 0, len(p.Draft.Fields))
	for k := range p.Draft.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		steps = append(steps, fmt.Sprintf("`%s`: %s", k, quoted(p.Draft.Fields[k])))
	}
	if len(p.Draft.MissingFields) > 0 {
		steps = append(steps, "Missing required fields: "+strings.Join(p.Draft.MissingFields, ", "))
	}
	return steps
}

func quoted(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// renderPatch lays out the artifact: run summary, instructions, changelog,
// post-apply checklist.
func renderPatch(now time.Time, ps []model.Proposal, ins []Instruction) string {
	var b strings.Builder

	dataset, warnings := 0, 0
	for i, p := range ps {
		if p.Type.AffectsDataset() {
			dataset++
		}
		warnings += len(ins[i].Warnings)
	}

	fmt.Fprintf(&b, "# Coverage patch %s\n\n", now.Format(time.RFC3339))
	b.WriteString("## Run summary\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Approved proposals: %d\n", len(ps))
	fmt.Fprintf(&b, "- Dataset changes: %d\n", dataset)
	fmt.Fprintf(&b, "- Administrative: %d\n", len(ps)-dataset)
	fmt.Fprintf(&b, "- Warnings: %d\n\n", warnings)

	b.WriteString("## Instructions\n\n")
	for i, in := range ins {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, in.Title)
		fmt.Fprintf(&b, "Proposal `%s` | source %s | confidence %.2f\n\n", in.ProposalID, orUnknown(ps[i].Source), in.Confidence)
		for _, w := range in.Warnings {
			fmt.Fprintf(&b, "> **WARNING:** %s\n\n", w)
		}
		for _, step := range in.Steps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		if len(in.Evidence) > 0 {
			b.WriteString("\nEvidence:\n")
			for _, ev := range in.Evidence {
				fmt.Fprintf(&b, "- %s %s\n", orUnknown(ev.Title), ev.URL)
				if ev.Quote != "" {
					fmt.Fprintf(&b, "  > %s\n", ev.Quote)
				}
			}
		}
		if ps[i].ReviewedBy != "" {
			fmt.Fprintf(&b, "\nApproved by %s", ps[i].ReviewedBy)
			if ps[i].ReviewNotes != "" {
				fmt.Fprintf(&b, ": %s", ps[i].ReviewNotes)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Changelog\n\n")
	if dataset == 0 {
		b.WriteString("No dataset changes.\n")
	}
	for i, p := range ps {
		if !p.Type.AffectsDataset() {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s [%s]\n", now.Format("2006-01-02"), ins[i].Title, p.ID)
	}

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	b.WriteString("\n## Post-apply checklist\n\n")
	b.WriteString("- [ ] Apply each instruction to the canonical dataset\n")
	if warnings > 0 {
		b.WriteString("- [ ] Resolve every WARNING above by hand\n")
	}
	b.WriteString("- [ ] Run dataset validation\n")
	b.WriteString("- [ ] Commit the dataset change\n")
	fmt.Fprintf(&b, "- [ ] Mark applied: `coverage-intel apply --commit <ref> %s`\n", strings.Join(ids, " "))
	return b.String()
}
