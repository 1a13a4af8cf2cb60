// Package strings holds the small set operations used on attribute lists.
// Attribute lists are ordered slices treated as sets: order of first
// appearance is preserved so responses and audit entries stay stable.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  email ", "phone", "email", "", "  "})
//	// Returns: []string{"email", "phone"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// Intersect returns the members of want that also appear in allowed, in the
// order they appear in want. Duplicates in want are collapsed.
func Intersect(want, allowed []string) []string {
	allowedSet := toSet(allowed)
	seen := make(map[string]struct{}, len(want))
	result := make([]string, 0, len(want))
	for _, v := range want {
		if _, ok := allowedSet[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// Missing returns the members of required that are absent from have.
// An empty result means have covers required.
func Missing(required, have []string) []string {
	haveSet := toSet(have)
	var missing []string
	for _, v := range required {
		if _, ok := haveSet[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
