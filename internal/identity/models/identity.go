package models

import (
	"time"

	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
)

// Status gates authentication: only active identities may act.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusActive, StatusPending, StatusSuspended:
		return st, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid identity status: %q", s)
}

func (s Status) String() string { return string(s) }

// Identity is an actor or data owner.
//
// Invariants:
//   - Role never changes after provisioning
//   - Status changes only through an oversight role
//   - Identities are never deleted
type Identity struct {
	ID        domain.IdentityID `json:"id"`
	Role      domain.Role       `json:"role"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func NewIdentity(id domain.IdentityID, role domain.Role, status Status, now time.Time) (*Identity, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity id cannot be empty")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity role is invalid")
	}
	if status == "" {
		status = StatusActive
	}
	return &Identity{
		ID:        id,
		Role:      role,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (i *Identity) CanAuthenticate() bool {
	return i.Status == StatusActive
}

// CanTransitionTo rejects no-op transitions so callers learn the status was
// already set.
func (i *Identity) CanTransitionTo(next Status) error {
	if i.Status == next {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "identity is already %s", next)
	}
	return nil
}

func (i *Identity) ApplyStatus(next Status, now time.Time) {
	i.Status = next
	i.UpdatedAt = now
}
