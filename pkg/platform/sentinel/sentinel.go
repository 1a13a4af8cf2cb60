package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: grant, case or identity does not exist
//   - ErrAlreadyUsed: unique key (identity id) already taken
//   - ErrInvalidState: record is in the wrong state for a conditional update
//   - ErrUnavailable: backing store or broker temporarily unavailable
//
// Input validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
