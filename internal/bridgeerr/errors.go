// Package bridgeerr defines the typed error kinds shared across the daemon.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core must distinguish.
type Kind string

const (
	NotConnected        Kind = "not_connected"
	MissingParameter    Kind = "missing_parameter"
	NotFound            Kind = "not_found"
	PermissionDenied    Kind = "permission_denied"
	Throttled           Kind = "throttled"
	Locked              Kind = "locked"
	Timeout             Kind = "timeout"
	AccessibilityDenied Kind = "accessibility_denied"
	InvariantViolation  Kind = "invariant_violation"
)

// Error is a typed, wrapped error with a stable code for RPC translation.
type Error struct {
	kind    Kind
	msg     string
	err     error
	Missing []string // set for MissingParameter
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the stable machine-readable code for this error kind.
func (e *Error) Code() string { return string(e.kind) }

// Kind returns the error kind.
func (e *Error) Kind() Kind { return e.kind }

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// MissingParams builds a MissingParameter error naming the missing fields.
func MissingParams(fields ...string) *Error {
	return &Error{kind: MissingParameter, msg: "missing required parameter(s)", Missing: fields}
}

// Is reports whether err carries the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.kind == kind
	}
	return false
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}
