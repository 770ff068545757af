// Package errors provides the coded error type shared by the approval engine,
// its repositories and its transport adapters.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for callers and transport mapping.
type Code string

const (
	ErrCodeInternal              Code = "INTERNAL"
	ErrCodeValidation            Code = "VALIDATION_ERROR"
	ErrCodeRoleNotEligible       Code = "ROLE_NOT_ELIGIBLE"
	ErrCodeVesselNotAuthorized   Code = "VESSEL_NOT_AUTHORIZED"
	ErrCodeNotFound              Code = "NOT_FOUND"
	ErrCodeInactive              Code = "INACTIVE"
	ErrCodeExpired               Code = "EXPIRED"
	ErrCodeAlreadyApproved       Code = "ALREADY_APPROVED"
	ErrCodeInsufficientAuthority Code = "INSUFFICIENT_AUTHORITY"
	ErrCodeConflictingTransition Code = "CONFLICTING_TRANSITION"
	ErrCodeUnauthenticated       Code = "UNAUTHENTICATED"
)

// Sentinels for errors.Is checks. Any *Error with the same code matches.
var (
	ErrValidation            = &Error{Code: ErrCodeValidation}
	ErrRoleNotEligible       = &Error{Code: ErrCodeRoleNotEligible}
	ErrVesselNotAuthorized   = &Error{Code: ErrCodeVesselNotAuthorized}
	ErrNotFound              = &Error{Code: ErrCodeNotFound}
	ErrInactive              = &Error{Code: ErrCodeInactive}
	ErrExpired               = &Error{Code: ErrCodeExpired}
	ErrAlreadyApproved       = &Error{Code: ErrCodeAlreadyApproved}
	ErrInsufficientAuthority = &Error{Code: ErrCodeInsufficientAuthority}
	ErrConflictingTransition = &Error{Code: ErrCodeConflictingTransition}
	ErrUnauthenticated       = &Error{Code: ErrCodeUnauthenticated}
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (message-less) *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is is a passthrough to the standard library so callers need a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a passthrough to the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
