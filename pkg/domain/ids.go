// Package domain holds domain primitives shared across modules: typed identifiers
// and the actor role union.
//
// Construct identifiers with the Parse functions at trust boundaries; direct
// conversion bypasses validation.
package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "govconsent/pkg/domain-errors"
)

const maxIdentityIDLength = 128

// IdentityID identifies a citizen or an actor. Identity ids are issued by the
// registration collaborator and are not required to be UUIDs.
type IdentityID string

// ParseIdentityID validates an identity id from external input.
//
// Errors: CodeInvalidInput when the value is empty, too long, not UTF-8, or
// contains whitespace or control characters.
func ParseIdentityID(s string) (IdentityID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity id cannot be empty")
	}
	if len(s) > maxIdentityIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity id too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity id must be valid UTF-8")
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) || r == '\u200b' }) >= 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity id contains invalid characters")
	}
	return IdentityID(s), nil
}

func (id IdentityID) String() string { return string(id) }

func (id IdentityID) IsNil() bool { return id == "" }

// GrantID identifies a consent grant.
type GrantID uuid.UUID

// CaseID identifies a workflow case.
type CaseID uuid.UUID

// AuditEntryID identifies an audit log entry.
type AuditEntryID uuid.UUID

func NewGrantID() GrantID           { return GrantID(uuid.New()) }
func NewCaseID() CaseID             { return CaseID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s, "grant id")
	return GrantID(u), err
}

func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s, "case id")
	return CaseID(u), err
}

func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

func (id GrantID) String() string      { return uuid.UUID(id).String() }
func (id GrantID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) String() string       { return uuid.UUID(id).String() }
func (id CaseID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", label)
	}
	if !utf8.ValidString(s) {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", label)
	}
	return u, nil
}

// Text marshalling keeps ids as canonical strings in JSON and Kafka payloads.

func (id GrantID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *GrantID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CaseID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *CaseID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AuditEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
