// Package audit defines the append-only audit trail written by the consent,
// workflow, identity and session services.
package audit

import (
	"time"

	"govconsent/pkg/domain"
)

// Action is the closed set of audited actions.
type Action string

const (
	ActionDataAccess            Action = "DATA_ACCESS"
	ActionConsentRequest        Action = "CONSENT_REQUEST"
	ActionConsentApproved       Action = "CONSENT_APPROVED"
	ActionConsentRevoked        Action = "CONSENT_REVOKED"
	ActionLogin                 Action = "LOGIN"
	ActionLogout                Action = "LOGOUT"
	ActionWorkflowCreated       Action = "WORKFLOW_CREATED"
	ActionWorkflowUpdate        Action = "WORKFLOW_UPDATE"
	ActionIdentityStatusChanged Action = "IDENTITY_STATUS_CHANGED"
)

// Category routes an entry to downstream consumers. Compliance entries carry
// legal weight (disclosures, consent decisions, case outcomes); security
// entries feed session and account monitoring.
type Category string

const (
	CategoryCompliance Category = "compliance"
	CategorySecurity   Category = "security"
)

var actionCategories = map[Action]Category{
	ActionDataAccess:            CategoryCompliance,
	ActionConsentRequest:        CategoryCompliance,
	ActionConsentApproved:       CategoryCompliance,
	ActionConsentRevoked:        CategoryCompliance,
	ActionWorkflowCreated:       CategoryCompliance,
	ActionWorkflowUpdate:        CategoryCompliance,
	ActionLogin:                 CategorySecurity,
	ActionLogout:                CategorySecurity,
	ActionIdentityStatusChanged: CategorySecurity,
}

// Category returns the routing category. Unknown actions count as compliance.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryCompliance
}

func (a Action) IsValid() bool {
	_, ok := actionCategories[a]
	return ok
}

func (a Action) String() string { return string(a) }

// Entry is one immutable audit record. AccessedAttributes and Purpose are nil
// when the action does not involve them.
type Entry struct {
	ID                 domain.AuditEntryID `json:"id"`
	ActorID            domain.IdentityID   `json:"actor_id"`
	ActorRole          domain.Role         `json:"actor_role"`
	TargetID           domain.IdentityID   `json:"target_id"`
	Action             Action              `json:"action"`
	AccessedAttributes []string            `json:"accessed_attributes,omitempty"`
	Purpose            *string             `json:"purpose,omitempty"`
	Metadata           map[string]any      `json:"metadata,omitempty"`
	RequestID          string              `json:"request_id,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Purpose is a convenience for building entries with an optional purpose.
func Purpose(p string) *string {
	return &p
}
