// Package domainerrors defines the coded error taxonomy shared by services and
// the HTTP layer. Infrastructure layers return pkg/sentinel errors; services wrap
// them here so transport can translate codes into status codes without inspecting
// error text.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeInvalidInput marks malformed requests. Fail fast, no retry.
	CodeInvalidInput Code = "invalid_input"
	// CodePolicyRejection marks valid input that failed verification on the
	// merits. Terminal and user-visible as "not verified".
	CodePolicyRejection Code = "policy_rejection"
	// CodeTransientFailure marks timeouts and transport failures to external
	// collaborators. Retried within a bounded budget; surfaces only after
	// budget exhaustion, never silently reinterpreted as a rejection.
	CodeTransientFailure Code = "transient_failure"
	// CodeInvariantViolation marks programming or race defects: a
	// double-consumed challenge, a duplicate recognition submission, a
	// re-decision of a terminal session. Logged loudly, fails closed.
	CodeInvariantViolation Code = "invariant_violation"

	CodeNotFound        Code = "not_found"
	CodeRateLimited     Code = "rate_limited"
	CodeAlreadyConsumed Code = "already_consumed"
	CodeDuplicate       Code = "duplicate_submission"
	CodeInternal        Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is checks against sentinels.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether the error chain carries the given domain code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the domain code from an error chain, defaulting to internal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps domain codes onto HTTP status codes for the transport
// error envelope.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAlreadyConsumed, CodeDuplicate:
		return http.StatusConflict
	case CodePolicyRejection:
		return http.StatusUnprocessableEntity
	case CodeTransientFailure:
		return http.StatusServiceUnavailable
	case CodeInvariantViolation, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
