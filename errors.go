package chatrelay

import (
	"errors"
	"fmt"
)

// Error represents a chatrelay error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for chatrelay operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates a user-correctable input problem (empty or oversized body).
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeUnauthorized indicates a missing, invalid or expired credential, or a denied
	// channel grant. Callers must re-authenticate.
	ErrCodeUnauthorized = "UNAUTHORIZED"

	// ErrCodeNetwork indicates the transport could not be reached. Transient.
	ErrCodeNetwork = "NETWORK_ERROR"

	// ErrCodeRelayUnavailable indicates a publish could not be handed to the relay.
	ErrCodeRelayUnavailable = "RELAY_UNAVAILABLE"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrUnauthorized is the generic authorization failure.
	ErrUnauthorized = &Error{
		Code:    ErrCodeUnauthorized,
		Message: "unauthorized",
	}

	// ErrRelayClosed is returned by a relay that has been shut down.
	ErrRelayClosed = &Error{
		Code:    ErrCodeRelayUnavailable,
		Message: "relay is closed",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// HasCode reports whether err, or any error it wraps, is an *Error with the given code.
func HasCode(err error, code string) bool {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Code == code
	}
	return false
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return HasCode(err, ErrCodeNoData) || errors.Is(err, ErrNoData)
}

// IsValidation checks if an error is a validation failure.
func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

// IsUnauthorized checks if an error is an authorization failure.
func IsUnauthorized(err error) bool {
	return HasCode(err, ErrCodeUnauthorized)
}

// IsNetwork checks if an error is a transient transport failure.
func IsNetwork(err error) bool {
	return HasCode(err, ErrCodeNetwork)
}

// IsRelayUnavailable checks if an error is a relay publish failure.
func IsRelayUnavailable(err error) bool {
	return HasCode(err, ErrCodeRelayUnavailable)
}
