package model

import "time"

// ProposalType identifies what part of the dataset a proposal changes.
type ProposalType string

const (
	ProposalCoverage          ProposalType = "coverage"
	ProposalUpdate            ProposalType = "update"
	ProposalNewTest           ProposalType = "new_test"
	ProposalDocumentCandidate ProposalType = "document_candidate"
	ProposalDelegationChange  ProposalType = "delegation_change"
	ProposalCoverageAssertion ProposalType = "coverage_assertion"
)

// AffectsDataset reports whether the type changes canonical test records
// rather than administrative tracking data.
func (t ProposalType) AffectsDataset() bool {
	switch t {
	case ProposalCoverage, ProposalUpdate, ProposalNewTest:
		return true
	default:
		return false
	}
}

// ProposalStatus is a lifecycle state.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
)

// Terminal reports whether no further status change is allowed.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalApplied || s == ProposalRejected
}

// FieldChange is one field edit on an existing test record.
type FieldChange struct {
	Field    string `json:"field" validate:"required"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue"`
}

// CoverageUpdate is a payer coverage position for a test.
type CoverageUpdate struct {
	Payer         string `json:"payer" validate:"required"`
	PolicyID      string `json:"policyId,omitempty"`
	Status        string `json:"status" validate:"required"`
	EffectiveDate string `json:"effectiveDate,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// SourceRef is evidence backing a proposal.
type SourceRef struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	Quote string `json:"quote,omitempty"`
}

// DocumentCandidate is a policy document proposed for tracking.
type DocumentCandidate struct {
	URL     string `json:"url" validate:"required"`
	Title   string `json:"title,omitempty"`
	Payer   string `json:"payer,omitempty"`
	DocType string `json:"docType,omitempty"`
}

// DelegationChange records a payer delegating lab benefit management.
type DelegationChange struct {
	Payer         string `json:"payer" validate:"required"`
	Delegate      string `json:"delegate" validate:"required"`
	EffectiveDate string `json:"effectiveDate,omitempty"`
}

// CoverageAssertion is an explicit stance quote from a payer document.
type CoverageAssertion struct {
	Payer  string `json:"payer,omitempty"`
	Stance Stance `json:"stance" validate:"required"`
	Quote  string `json:"quote,omitempty"`
}

// AuditEntry is an append-only record of something that happened to a proposal.
type AuditEntry struct {
	At     time.Time      `json:"at"`
	Actor  string         `json:"actor,omitempty"`
	Action string         `json:"action"`
	From   ProposalStatus `json:"from,omitempty"`
	To     ProposalStatus `json:"to,omitempty"`
	Note   string         `json:"note,omitempty"`
}

// Proposal is a candidate, human-reviewable change to the canonical dataset.
type Proposal struct {
	ID              string             `json:"id" validate:"required"`
	Type            ProposalType       `json:"type" validate:"required,oneof=coverage update new_test document_candidate delegation_change coverage_assertion"`
	DiscoveryID     string             `json:"discoveryId,omitempty"`
	TestID          string             `json:"testId,omitempty"`
	TestName        string             `json:"testName,omitempty"`
	Changes         []FieldChange      `json:"changes,omitempty" validate:"dive"`
	CoverageUpdates []CoverageUpdate   `json:"coverageUpdates,omitempty" validate:"dive"`
	Document        *DocumentCandidate `json:"document,omitempty"`
	Delegation      *DelegationChange  `json:"delegation,omitempty"`
	Assertion       *CoverageAssertion `json:"assertion,omitempty"`
	Draft           *Draft             `json:"draft,omitempty"`
	Confidence      float64            `json:"confidence" validate:"gte=0,lte=1"`
	Status          ProposalStatus     `json:"status" validate:"required,oneof=pending approved rejected applied"`
	Source          string             `json:"source"`
	Sources         []SourceRef        `json:"sources,omitempty"`
	ReviewedBy      string             `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time         `json:"reviewedAt,omitempty"`
	ReviewNotes     string             `json:"reviewNotes,omitempty"`
	AppliedAt       *time.Time         `json:"appliedAt,omitempty"`
	CommitRef       string             `json:"commitRef,omitempty"`
	Audit           []AuditEntry       `json:"audit,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Review carries reviewer details for a status change.
type Review struct {
	Reviewer string
	Notes    string
	At       time.Time
}

// TestRecord is the canonical dataset's view of one test.
type TestRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Vendor   string `json:"vendor,omitempty"`
	Category string `json:"category,omitempty"`
}
