// Package apperr provides machine-readable error codes for the settlement core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Ledger errors
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeVentureLocked     Code = "VENTURE_LOCKED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyProcessed  Code = "ALREADY_PROCESSED"

	// Job errors
	CodeDuplicateJob          Code = "DUPLICATE_JOB"
	CodeRevisionLimitExceeded Code = "REVISION_LIMIT_EXCEEDED"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"

	// Access errors
	CodeNotAuthorized Code = "NOT_AUTHORIZED"

	// External collaborators
	CodeExternalServiceUnavailable Code = "EXTERNAL_SERVICE_UNAVAILABLE"

	// Generic
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
)

// Error carries a Code alongside a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrCapacityExceeded           = &Error{Code: CodeCapacityExceeded}
	ErrVentureLocked              = &Error{Code: CodeVentureLocked}
	ErrInsufficientFunds          = &Error{Code: CodeInsufficientFunds}
	ErrAlreadyProcessed           = &Error{Code: CodeAlreadyProcessed}
	ErrDuplicateJob               = &Error{Code: CodeDuplicateJob}
	ErrRevisionLimitExceeded      = &Error{Code: CodeRevisionLimitExceeded}
	ErrInvalidTransition          = &Error{Code: CodeInvalidTransition}
	ErrNotAuthorized              = &Error{Code: CodeNotAuthorized}
	ErrExternalServiceUnavailable = &Error{Code: CodeExternalServiceUnavailable}
	ErrNotFound                   = &Error{Code: CodeNotFound}
	ErrInvalidArgument            = &Error{Code: CodeInvalidArgument}
	ErrFailedPrecondition         = &Error{Code: CodeFailedPrecondition}
)

// New returns an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MessageOf returns the human-readable part of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps domain codes to HTTP status codes.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusForbidden
	case CodeDuplicateJob, CodeAlreadyProcessed:
		return http.StatusConflict
	case CodeVentureLocked, CodeInvalidTransition, CodeFailedPrecondition,
		CodeCapacityExceeded, CodeRevisionLimitExceeded:
		return http.StatusUnprocessableEntity
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeExternalServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
