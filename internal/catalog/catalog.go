// Package catalog holds the closed set of attribute names that may ever be
// requested from, or disclosed out of, an owner's record.
//
// The table is fixed at build time. Nothing mutates it at runtime, so callers
// may read it from any goroutine without coordination.
package catalog

import (
	"slices"
	"strings"

	dErrors "govconsent/pkg/domain-errors"
	setutil "govconsent/pkg/platform/strings"
)

// Wildcard is never a legal attribute: grants always name every field.
const Wildcard = "*"

// Attribute names grouped by the record section they live in.
const (
	FullName            = "full_name"
	DateOfBirth         = "date_of_birth"
	Gender              = "gender"
	Email               = "email"
	Phone               = "phone"
	Address             = "address"
	HealthID            = "health_id"
	BloodGroup          = "blood_group"
	Allergies           = "allergies"
	IncomeBracket       = "income_bracket"
	TaxID               = "tax_id"
	DrivingLicense      = "driving_license"
	VehicleRegistration = "vehicle_registration"
	EducationLevel      = "education_level"
)

var attributes = map[string]struct{}{
	FullName:            {},
	DateOfBirth:         {},
	Gender:              {},
	Email:               {},
	Phone:               {},
	Address:             {},
	HealthID:            {},
	BloodGroup:          {},
	Allergies:           {},
	IncomeBracket:       {},
	TaxID:               {},
	DrivingLicense:      {},
	VehicleRegistration: {},
	EducationLevel:      {},
}

// Contains reports whether name is a catalog attribute.
func Contains(name string) bool {
	_, ok := attributes[name]
	return ok
}

// All returns the catalog in sorted order.
func All() []string {
	out := make([]string, 0, len(attributes))
	for name := range attributes {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// ValidateAttributes checks a requested attribute set for a consent request or
// a workflow case. Whitespace and duplicates are normalized away first. On
// failure the error's Details name every offending entry.
//
// Read paths never call this: unknown names there are simply never disclosed.
func ValidateAttributes(requested []string) ([]string, error) {
	normalized := setutil.DedupeAndTrim(requested)
	if len(normalized) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "attributes must not be empty")
	}
	if slices.Contains(normalized, Wildcard) {
		return nil, dErrors.New(dErrors.CodeValidation, "wildcard not allowed")
	}

	var unknown []string
	for _, name := range normalized {
		if !Contains(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, dErrors.NewWithDetails(dErrors.CodeValidation,
			"unknown attributes: "+strings.Join(unknown, ", "), unknown)
	}
	return normalized, nil
}
