package ledger

import (
	"errors"
	"fmt"
)

// Code classifies ledger failures so callers can distinguish user-actionable
// outcomes (capacity full, already RSVP'd) from system errors.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeInvalidState       Code = "invalid_state"
	CodeCapacityExceeded   Code = "capacity_exceeded"
	CodeDuplicateRSVP      Code = "duplicate_rsvp"
	CodePastEvent          Code = "past_event"
	CodeWindowClosed       Code = "cancellation_window_closed"
	CodeTransientConflict  Code = "transient_conflict"
	CodeCompensationFailed Code = "compensation_failed"
	CodeValidation         Code = "validation_error"
)

// Error is a classified ledger error. It wraps the underlying cause, if any.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a ledger error with a formatted message.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrap builds a ledger error around an underlying cause.
func wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ledger error code, or "" for unclassified errors.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
