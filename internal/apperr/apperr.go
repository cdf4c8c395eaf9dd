// Package apperr defines the error taxonomy shared across the core.
// Every user-visible failure carries a stable code so callers (and the
// sync engine's conflict policy) can branch without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	IdentityNotFound     Code = "IDENTITY_NOT_FOUND"
	AlreadyInPool        Code = "ALREADY_IN_POOL"
	DuplicateCapture     Code = "DUPLICATE_CAPTURE"
	DuplicateSession     Code = "DUPLICATE_SESSION"
	SessionNotFound      Code = "SESSION_NOT_FOUND"
	SessionAlreadyClosed Code = "SESSION_ALREADY_CLOSED"
	InvalidMasterkey     Code = "INVALID_MASTERKEY"
	NotAuthenticated     Code = "NOT_AUTHENTICATED"
	DuplicateEntry       Code = "DUPLICATE_ENTRY"
	SyncTransient        Code = "SYNC_TRANSIENT"
	SyncFatal            Code = "SYNC_FATAL"

	// NotFound covers remaining lookup misses that have no dedicated code
	// (e.g. patching a log that does not exist). InvalidInput covers
	// caller mistakes rejected before touching the store.
	NotFound     Code = "NOT_FOUND"
	InvalidInput Code = "INVALID_INPUT"
)

// Error is an application error with a code, a human-readable message,
// and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var ae *Error
	for errors.As(err, &ae) {
		if ae.Code == code {
			return true
		}
		err = ae.Err
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
