package models

import (
	"slices"
	"time"

	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
)

type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// transitions is the complete table. Anything not listed is a conflict.
var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
}

// Case is a consent-gated request for a government decision.
//
// Invariants:
//   - created SUBMITTED; RequiredAttributes non-empty and catalog-only
//   - status follows the transitions table only
//   - GovernmentID is set by the first oversight transition and never changes
type Case struct {
	ID                 domain.CaseID     `json:"id"`
	Type               string            `json:"type"`
	Domain             string            `json:"domain,omitempty"`
	CitizenID          domain.IdentityID `json:"citizen_id"`
	ServiceID          domain.IdentityID `json:"service_id,omitempty"`
	GovernmentID       domain.IdentityID `json:"government_id,omitempty"`
	Status             Status            `json:"status"`
	Purpose            string            `json:"purpose"`
	RequiredAttributes []string          `json:"required_attributes"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewCase builds a SUBMITTED case. serviceID is empty when a citizen files
// for themselves.
func NewCase(
	id domain.CaseID,
	caseType, caseDomain string,
	citizenID, serviceID domain.IdentityID,
	purpose string,
	required []string,
	now time.Time,
) (*Case, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "case id cannot be empty")
	}
	if caseType == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "case type is required")
	}
	if citizenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "case citizen is required")
	}
	if len(required) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "case must require at least one attribute")
	}
	return &Case{
		ID:                 id,
		Type:               caseType,
		Domain:             caseDomain,
		CitizenID:          citizenID,
		ServiceID:          serviceID,
		Status:             StatusSubmitted,
		Purpose:            purpose,
		RequiredAttributes: slices.Clone(required),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (c *Case) CanTransitionTo(next Status) error {
	if !slices.Contains(transitions[c.Status], next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot move case from %s to %s", c.Status, next)
	}
	return nil
}

// ApplyTransition records the new status and, on the first oversight
// action, the acting government identity.
func (c *Case) ApplyTransition(next Status, actorID domain.IdentityID, now time.Time) {
	c.Status = next
	if c.GovernmentID.IsNil() {
		c.GovernmentID = actorID
	}
	c.UpdatedAt = now
}
