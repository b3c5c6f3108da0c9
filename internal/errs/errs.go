// Package errs defines the error taxonomy shared across the storage node.
//
// Every fallible operation in this module returns (or wraps) an *Error so
// callers — HTTP handlers in particular — can branch on Kind without
// string-matching messages, the same way the upstream pkg/utils.Wrap helper
// added context without losing the underlying cause.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories from the node's error-handling design.
type Kind string

const (
	InvalidInput         Kind = "InvalidInput"
	Validation           Kind = "Validation"
	NotFound             Kind = "NotFound"
	InvalidOperation     Kind = "InvalidOperation"
	InvalidKey           Kind = "InvalidKey"
	InvalidCiphertext    Kind = "InvalidCiphertext"
	CryptoFailure        Kind = "CryptoFailure"
	Storage              Kind = "Storage"
	Serialization        Kind = "Serialization"
	Network              Kind = "Network"
	Timeout              Kind = "Timeout"
	Distribution         Kind = "Distribution"
	QueueFull            Kind = "QueueFull"
	TaskCancelled        Kind = "TaskCancelled"
	TaskFailed           Kind = "TaskFailed"
	InvalidState         Kind = "InvalidState"
	InvalidConfiguration Kind = "InvalidConfiguration"
)

// Error is the taxonomy-tagged error type returned throughout the node.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a bare taxonomy error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs a bare taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap adds a kind and message to an existing cause. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
