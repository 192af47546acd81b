// Package proposal manages the review lifecycle of change proposals and
// renders approved proposals into a patch artifact for curators.
package proposal

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-intel/internal/metrics"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/store"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the proposal's current status.
var ErrInvalidTransition = eris.New("proposal: invalid transition")

// transitions lists the allowed forward moves. Statuses absent as keys are terminal.
var transitions = map[model.ProposalStatus][]model.ProposalStatus{
	model.ProposalPending:  {model.ProposalApproved, model.ProposalRejected},
	model.ProposalApproved: {model.ProposalApplied},
}

// CanTransition reports whether a proposal may move from one status to another.
func CanTransition(from, to model.ProposalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service drives proposals through review, patch generation, and application.
type Service struct {
	store     store.ProposalStore
	dataset   Dataset
	outputDir string
	now       func() time.Time
}

// NewService creates a Service. dataset may be nil, in which case every
// referenced test is reported as not found in generated patches.
func NewService(st store.ProposalStore, dataset Dataset, outputDir string) *Service {
	return &Service{
		store:     st,
		dataset:   dataset,
		outputDir: outputDir,
		now:       time.Now,
	}
}

// SubmitResult summarizes a Submit call.
type SubmitResult struct {
	Created []string
	Skipped []string
}

// Submit validates every proposal and stores them. Nothing is stored when any
// proposal is invalid. Ids that already exist are skipped.
func (s *Service) Submit(ctx context.Context, ps []model.Proposal) (SubmitResult, error) {
	var res SubmitResult
	for _, p := range ps {
		if err := model.ValidateProposal(p); err != nil {
			return res, eris.Wrap(err, "proposal: submit")
		}
		if p.Status != model.ProposalPending {
			return res, eris.Wrapf(ErrInvalidTransition, "proposal %s: submitted as %s", p.ID, p.Status)
		}
	}
	for _, p := range ps {
		err := s.store.Create(ctx, p)
		if errors.Is(err, store.ErrExists) {
			res.Skipped = append(res.Skipped, p.ID)
			continue
		}
		if err != nil {
			return res, eris.Wrapf(err, "proposal: submit %s", p.ID)
		}
		res.Created = append(res.Created, p.ID)
	}
	zap.L().Info("proposal: submitted",
		zap.Int("created", len(res.Created)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// List returns proposals with the given status, or all when status is empty.
func (s *Service) List(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error) {
	ps, err := s.store.ListByStatus(ctx, status)
	return ps, eris.Wrap(err, "proposal: list")
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := s.store.Get(ctx, id)
	return p, eris.Wrapf(err, "proposal: get %s", id)
}

// Approve moves a pending proposal to approved.
func (s *Service) Approve(ctx context.Context, id, reviewer, notes string) (*model.Proposal, error) {
	return s.review(ctx, id, model.ProposalApproved, reviewer, notes)
}

// Reject moves a pending proposal to rejected.
func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (*model.Proposal, error) {
	return s.review(ctx, id, model.ProposalRejected, reviewer, notes)
}

func (s *Service) review(ctx context.Context, id string, to model.ProposalStatus, reviewer, notes string) (*model.Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "proposal: %s %s", to, id)
	}
	if !CanTransition(p.Status, to) {
		return nil, eris.Wrapf(ErrInvalidTransition, "proposal %s: %s to %s", id, p.Status, to)
	}

	review := model.Review{Reviewer: reviewer, Notes: notes, At: s.now()}
	if err := s.store.UpdateStatus(ctx, id, p.Status, to, review); err != nil {
		return nil, eris.Wrapf(err, "proposal: %s %s", to, id)
	}
	metrics.Get().ProposalTransition.WithLabelValues(string(to)).Inc()
	zap.L().Info("proposal: reviewed",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("reviewer", reviewer),
	)
	return s.store.Get(ctx, id)
}

// Annotate appends a note to the audit trail without touching status. It
// works in every state, terminal ones included.
func (s *Service) Annotate(ctx context.Context, id, actor, note string) error {
	entry := model.AuditEntry{At: s.now(), Actor: actor, Action: "note", Note: note}
	return eris.Wrapf(s.store.AppendAudit(ctx, id, entry), "proposal: annotate %s", id)
}

// ApplyResult is the per-id outcome of MarkApplied.
type ApplyResult struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// MarkApplied marks each approved id as applied with an optional commit
// reference. Ids already applied succeed without change. A failure on one id
// never affects the others.
func (s *Service) MarkApplied(ctx context.Context, ids []string, commitRef string) []ApplyResult {
	results := make([]ApplyResult, 0, len(ids))
	for _, id := range ids {
		r := ApplyResult{ID: id}
		changed, err := s.markOne(ctx, id, commitRef)
		if err != nil {
			r.Error = err.Error()
			zap.L().Warn("proposal: mark applied failed", zap.String("id", id), zap.Error(err))
		} else {
			r.OK = true
			r.Changed = changed
		}
		results = append(results, r)
	}
	return results
}

func (s *Service) markOne(ctx context.Context, id, commitRef string) (bool, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "proposal: apply %s", id)
	}
	if p.Status == model.ProposalApplied {
		return false, nil
	}
	if !CanTransition(p.Status, model.ProposalApplied) {
		return false, eris.Wrapf(ErrInvalidTransition, "proposal %s: %s to applied", id, p.Status)
	}
	if err := s.store.MarkApplied(ctx, id, commitRef, s.now()); err != nil {
		return false, eris.Wrapf(err, "proposal: apply %s", id)
	}
	metrics.Get().ProposalTransition.WithLabelValues(string(model.ProposalApplied)).Inc()
	return true, nil
}
