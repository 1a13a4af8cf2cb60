// Package domainerrors carries the error taxonomy shared by services and transports.
//
// Services return *Error values with a Code; transports translate the code into a
// status and a machine-readable error string. Infrastructure layers should return
// sentinel errors (pkg/platform/sentinel) and let services wrap them here.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable kind of a domain error.
type Code string

const (
	// Validation: caller input is malformed. Recoverable by correcting the input.
	CodeValidation   Code = "validation_error"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"

	// Authorization: the caller is known but not permitted.
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeMissingConsent      Code = "no_consent"
	CodeInsufficientConsent Code = "insufficient_consent"

	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"

	// CodeInvariantViolation is raised by model constructors; services convert it
	// to CodeValidation or CodeConflict before it reaches a transport.
	CodeInvariantViolation Code = "invariant_violation"

	CodeTimeout  Code = "timeout"
	CodeInternal Code = "internal_error"
)

// Error is a domain error. Details lists individual offending values so callers
// can fix every problem in a single round trip.
type Error struct {
	Code    Code
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with the given code.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewWithDetails creates a domain error that names every offending value.
func NewWithDetails(code Code, msg string, details []string) error {
	return &Error{Code: code, Message: msg, Details: append([]string(nil), details...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the outermost *Error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err carries code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias for HasCode kept for readability at call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// GetCode returns the code of err, or CodeInternal for non-domain errors.
func GetCode(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// IsAuthorization reports whether err is any of the authorization kinds.
func IsAuthorization(err error) bool {
	switch GetCode(err) {
	case CodeForbidden, CodeMissingConsent, CodeInsufficientConsent:
		return true
	}
	return false
}

// ToHTTPStatus maps a code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput, CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeMissingConsent, CodeInsufficientConsent:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
