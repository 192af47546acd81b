package model

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateProposal checks struct constraints and type-specific payloads.
func ValidateProposal(p Proposal) error {
	if err := validatorInstance().Struct(p); err != nil {
		return eris.Wrapf(err, "model: invalid proposal %s", p.ID)
	}
	switch p.Type {
	case ProposalDocumentCandidate:
		if p.Document == nil {
			return eris.Errorf("model: proposal %s: document_candidate requires document", p.ID)
		}
	case ProposalDelegationChange:
		if p.Delegation == nil {
			return eris.Errorf("model: proposal %s: delegation_change requires delegation", p.ID)
		}
	case ProposalCoverageAssertion:
		if p.Assertion == nil {
			return eris.Errorf("model: proposal %s: coverage_assertion requires assertion", p.ID)
		}
	}
	return nil
}

// ValidateDiscovery checks required discovery fields.
func ValidateDiscovery(d Discovery) error {
	if err := validatorInstance().Struct(d); err != nil {
		return eris.Wrapf(err, "model: invalid discovery %s", d.ID)
	}
	return nil
}
