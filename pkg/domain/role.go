package domain

import dErrors "govconsent/pkg/domain-errors"

// Role is the closed set of actor kinds. Capability checks live on the type so
// services never compare raw strings.
type Role string

const (
	RoleCitizen             Role = "citizen"
	RoleServiceProvider     Role = "service_provider"
	RoleGovernment          Role = "government"
	RoleRegulatoryAuthority Role = "regulatory_authority"
	RoleAdmin               Role = "admin"
)

var validRoles = map[Role]bool{
	RoleCitizen:             true,
	RoleServiceProvider:     true,
	RoleGovernment:          true,
	RoleRegulatoryAuthority: true,
	RoleAdmin:               true,
}

// ParseRole validates a role from external input.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid role: %q", s)
	}
	return r, nil
}

func (r Role) IsValid() bool   { return validRoles[r] }
func (r Role) String() string  { return string(r) }
func (r Role) IsCitizen() bool { return r == RoleCitizen }

// CanRequestConsent: data owners never request access, to themselves or others.
func (r Role) CanRequestConsent() bool {
	return r.IsValid() && r != RoleCitizen
}

// IsOversight covers roles that advance workflow cases, change identity status,
// and read the whole audit log.
func (r Role) IsOversight() bool {
	switch r {
	case RoleGovernment, RoleRegulatoryAuthority, RoleAdmin:
		return true
	}
	return false
}

// CanCreateCase is limited to citizens (for themselves) and service providers.
func (r Role) CanCreateCase() bool {
	return r == RoleCitizen || r == RoleServiceProvider
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   IdentityID
	Role Role
}

func (a Actor) IsNil() bool { return a.ID.IsNil() }
