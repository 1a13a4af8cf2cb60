// Package store keeps the token revocation list consulted on every
// authenticated request. Entries expire with the token they revoke.
package store

import (
	"fmt"
	"time"

	"govconsent/pkg/platform/sentinel"
)

// Clock is injected for tests.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
