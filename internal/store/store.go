// Package store persists discoveries and change proposals.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-intel/internal/model"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrExists is returned when creating a record whose id is taken.
	ErrExists = eris.New("store: already exists")
	// ErrStatusConflict is returned when a record is not in the expected
	// status at the time of a compare-and-set update.
	ErrStatusConflict = eris.New("store: status conflict")
)

// DiscoveryStore holds raw discoveries. Discoveries are never deleted and are
// only mutated by marking them reviewed.
type DiscoveryStore interface {
	// Save inserts discoveries. Ids already present are left untouched.
	Save(ctx context.Context, ds []model.Discovery) error
	// Load returns discoveries in insertion order. An empty status loads all.
	Load(ctx context.Context, status model.DiscoveryStatus) ([]model.Discovery, error)
	Get(ctx context.Context, id string) (*model.Discovery, error)
	MarkReviewed(ctx context.Context, id string, at time.Time) error
}

// ProposalStore holds change proposals and their audit trail.
type ProposalStore interface {
	// ListByStatus returns proposals oldest first. An empty status lists all.
	ListByStatus(ctx context.Context, status model.ProposalStatus) ([]model.Proposal, error)
	Create(ctx context.Context, p model.Proposal) error
	Get(ctx context.Context, id string) (*model.Proposal, error)

	// UpdateStatus moves a proposal from one status to another, recording
	// the review and an audit entry. It fails with ErrStatusConflict when
	// the stored status is not from.
	UpdateStatus(ctx context.Context, id string, from, to model.ProposalStatus, review model.Review) error

	// MarkApplied moves an approved proposal to applied.
	MarkApplied(ctx context.Context, id, commitRef string, at time.Time) error

	AppendAudit(ctx context.Context, id string, entry model.AuditEntry) error
}

// Store bundles both record stores behind one backend.
type Store interface {
	Discoveries() DiscoveryStore
	Proposals() ProposalStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Audit actions written by the stores.
const (
	ActionStatusChange = "status_change"
	ActionApplied      = "applied"
)

// applyStatus performs the compare-and-set status change on an in-memory
// proposal. Every backend funnels through it so the rules stay identical.
func applyStatus(p *model.Proposal, from, to model.ProposalStatus, review model.Review) error {
	if p.Status != from {
		return eris.Wrapf(ErrStatusConflict, "proposal %s is %s, not %s", p.ID, p.Status, from)
	}
	at := review.At.UTC()
	p.Status = to
	p.ReviewedBy = review.Reviewer
	p.ReviewedAt = &at
	p.ReviewNotes = review.Notes
	p.UpdatedAt = at
	p.Audit = append(p.Audit, model.AuditEntry{
		At:     at,
		Actor:  review.Reviewer,
		Action: ActionStatusChange,
		From:   from,
		To:     to,
		Note:   review.Notes,
	})
	return nil
}

func applyApplied(p *model.Proposal, commitRef string, at time.Time) error {
	if p.Status != model.ProposalApproved {
		return eris.Wrapf(ErrStatusConflict, "proposal %s is %s, not %s", p.ID, p.Status, model.ProposalApproved)
	}
	at = at.UTC()
	p.Status = model.ProposalApplied
	p.AppliedAt = &at
	p.CommitRef = commitRef
	p.UpdatedAt = at
	p.Audit = append(p.Audit, model.AuditEntry{
		At:     at,
		Action: ActionApplied,
		From:   model.ProposalApproved,
		To:     model.ProposalApplied,
		Note:   commitRef,
	})
	return nil
}

func applyAudit(p *model.Proposal, entry model.AuditEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	entry.At = entry.At.UTC()
	p.Audit = append(p.Audit, entry)
	p.UpdatedAt = entry.At
}

// prepareDiscoveries defaults missing statuses to pending and validates.
func prepareDiscoveries(ds []model.Discovery) ([]model.Discovery, error) {
	out := make([]model.Discovery, len(ds))
	for i, d := range ds {
		if d.Status == "" {
			d.Status = model.DiscoveryPending
		}
		if err := model.ValidateDiscovery(d); err != nil {
			return nil, eris.Wrap(err, "store: save discoveries")
		}
		out[i] = d
	}
	return out, nil
}
