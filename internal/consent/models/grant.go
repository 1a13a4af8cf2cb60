package models

import (
	"slices"
	"time"

	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	attrset "govconsent/pkg/platform/strings"
)

// Status is the stored lifecycle state. Expiry is never stored: an active
// grant past its valid_until reads as active but fails IsValidAt.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

func (s Status) String() string { return string(s) }

// Grant authorizes RequesterID to read the listed attributes of OwnerID's
// record for a bounded window.
//
// Invariants:
//   - Attributes is non-empty, catalog-only and never contains the wildcard
//   - pending: ValidFrom and ValidUntil are nil
//   - active: both set, ValidUntil = ValidFrom + approved duration
//   - only the owner moves a grant out of pending or into revoked
type Grant struct {
	ID                    domain.GrantID    `json:"id"`
	OwnerID               domain.IdentityID `json:"owner_id"`
	RequesterID           domain.IdentityID `json:"requester_id"`
	Purpose               string            `json:"purpose"`
	Attributes            []string          `json:"attributes"`
	Status                Status            `json:"status"`
	ServiceType           string            `json:"service_type,omitempty"`
	RequestedDurationDays *int              `json:"requested_duration_days,omitempty"`
	ValidFrom             *time.Time        `json:"valid_from,omitempty"`
	ValidUntil            *time.Time        `json:"valid_until,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// NewGrant builds a pending grant. attributes must already be catalog-validated.
func NewGrant(
	id domain.GrantID,
	ownerID, requesterID domain.IdentityID,
	purpose string,
	attributes []string,
	serviceType string,
	requestedDays *int,
	now time.Time,
) (*Grant, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grant id cannot be empty")
	}
	if ownerID.IsNil() || requesterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grant owner and requester are required")
	}
	if ownerID == requesterID {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner cannot request access to their own data")
	}
	if len(attributes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grant must name at least one attribute")
	}
	return &Grant{
		ID:                    id,
		OwnerID:               ownerID,
		RequesterID:           requesterID,
		Purpose:               purpose,
		Attributes:            slices.Clone(attributes),
		Status:                StatusPending,
		ServiceType:           serviceType,
		RequestedDurationDays: requestedDays,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

func (g *Grant) IsOwnedBy(id domain.IdentityID) bool {
	return g.OwnerID == id
}

// IsValidAt is the only validity predicate: stored status alone is never trusted.
func (g *Grant) IsValidAt(now time.Time) bool {
	return g.Status == StatusActive && g.ValidUntil != nil && g.ValidUntil.After(now)
}

// IsExpiredAt reports an active grant whose window has elapsed.
func (g *Grant) IsExpiredAt(now time.Time) bool {
	return g.Status == StatusActive && g.ValidUntil != nil && !g.ValidUntil.After(now)
}

func (g *Grant) CanApprove() error {
	if g.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "grant is %s, not pending", g.Status)
	}
	return nil
}

// ApplyApproval activates the grant. days may be zero or negative, which
// yields a window that has already elapsed.
func (g *Grant) ApplyApproval(now time.Time, days int) {
	from := now
	until := now.AddDate(0, 0, days)
	g.Status = StatusActive
	g.ValidFrom = &from
	g.ValidUntil = &until
	g.UpdatedAt = now
}

// ApplyRevocation is unconditional: revoking a pending or revoked grant is
// accepted. The validity window is kept for the record.
func (g *Grant) ApplyRevocation(now time.Time) {
	g.Status = StatusRevoked
	g.UpdatedAt = now
}

// Disclose returns requested ∩ Attributes in request order.
func (g *Grant) Disclose(requested []string) []string {
	return attrset.Intersect(requested, g.Attributes)
}

// Covers reports whether every required attribute is granted.
func (g *Grant) Covers(required []string) bool {
	return len(attrset.Missing(required, g.Attributes)) == 0
}
