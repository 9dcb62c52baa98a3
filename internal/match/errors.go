package match

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotYourTurn          Code = "NOT_YOUR_TURN"
	CodeInsufficientResource Code = "INSUFFICIENT_RESOURCE"
	CodeDuplicateCommand     Code = "DUPLICATE_COMMAND"
	CodeConcurrencyConflict  Code = "CONCURRENCY_CONFLICT"
	CodeCorruption           Code = "CORRUPTION"
)

// Error is a match domain error. Two errors are equal under errors.Is when
// their codes match, so callers compare against the Err* sentinels below.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNotYourTurn          = &Error{Code: CodeNotYourTurn, Message: "not your turn"}
	ErrInsufficientResource = &Error{Code: CodeInsufficientResource, Message: "insufficient resource"}
	ErrDuplicateCommand     = &Error{Code: CodeDuplicateCommand, Message: "duplicate command"}
	ErrConcurrencyConflict  = &Error{Code: CodeConcurrencyConflict, Message: "concurrency conflict"}
	ErrCorruption           = &Error{Code: CodeCorruption, Message: "event log corruption"}
)

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code carried by err, or "" when err is not a match error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
