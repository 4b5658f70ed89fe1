// Package errors defines the error taxonomy used across the gateway.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrConfig is returned when the configuration or policy document is invalid.
	// Errors of this type are fatal at startup.
	ErrConfig = "config"

	// ErrUnauthenticated is returned when no valid identity could be resolved
	// for a request.
	ErrUnauthenticated = "unauthenticated"

	// ErrUnauthorized is returned when an authenticated identity fails the
	// access check for a route.
	ErrUnauthorized = "unauthorized"

	// ErrVerification is returned when a presented credential fails
	// signature or claim verification.
	ErrVerification = "verification"

	// ErrCSRFMismatch is returned when the state presented on the login
	// callback does not match the one issued for the handshake.
	ErrCSRFMismatch = "csrf_mismatch"

	// ErrUpstream is returned when forwarding to an upstream service fails.
	ErrUpstream = "upstream"

	// ErrNoMatch is returned when no configured route matches a request.
	ErrNoMatch = "no_match"
)

// Error represents an error in the gateway.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, message, cause)
}

// NewUnauthenticatedError creates a new unauthenticated error
func NewUnauthenticatedError(message string, cause error) *Error {
	return NewError(ErrUnauthenticated, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewVerificationError creates a new verification error
func NewVerificationError(message string, cause error) *Error {
	return NewError(ErrVerification, message, cause)
}

// NewCSRFMismatchError creates a new CSRF mismatch error
func NewCSRFMismatchError(message string, cause error) *Error {
	return NewError(ErrCSRFMismatch, message, cause)
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewNoMatchError creates a new no match error
func NewNoMatchError(message string, cause error) *Error {
	return NewError(ErrNoMatch, message, cause)
}

// isType checks whether err is (or wraps) an *Error of the given type.
func isType(err error, errorType string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == errorType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return isType(err, ErrConfig)
}

// IsUnauthenticated checks if the error is an unauthenticated error
func IsUnauthenticated(err error) bool {
	return isType(err, ErrUnauthenticated)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return isType(err, ErrUnauthorized)
}

// IsVerification checks if the error is a verification error
func IsVerification(err error) bool {
	return isType(err, ErrVerification)
}

// IsCSRFMismatch checks if the error is a CSRF mismatch error
func IsCSRFMismatch(err error) bool {
	return isType(err, ErrCSRFMismatch)
}

// IsUpstream checks if the error is an upstream error
func IsUpstream(err error) bool {
	return isType(err, ErrUpstream)
}

// IsNoMatch checks if the error is a no match error
func IsNoMatch(err error) bool {
	return isType(err, ErrNoMatch)
}
