// Package apperr implements the error taxonomy shared by every component:
// Validation, InvariantViolation, Transient, CatalogMiss, Fatal, NotFound,
// Timeout, and Cancelled. Protocol adapters map a Kind to their own
// natural failure mode (HTTP status, MQTT error topic, KNX silence).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for cross-component propagation.
type Kind int

const (
	// KindUnknown is never returned by this package's constructors; it is
	// the zero value so a missing classification is obvious in logs.
	KindUnknown Kind = iota
	KindValidation
	KindInvariantViolation
	KindTransient
	KindCatalogMiss
	KindFatal
	KindNotFound
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindTransient:
		return "transient"
	case KindCatalogMiss:
		return "catalog_miss"
	case KindFatal:
		return "fatal"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the single typed result used across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(msg string) *Error                 { return new(KindValidation, msg, nil) }
func Validationf(cause error, msg string) *Error    { return new(KindValidation, msg, cause) }
func Invariant(msg string) *Error                   { return new(KindInvariantViolation, msg, nil) }
func Transient(msg string, cause error) *Error      { return new(KindTransient, msg, cause) }
func CatalogMiss(msg string) *Error                 { return new(KindCatalogMiss, msg, nil) }
func Fatal(msg string, cause error) *Error          { return new(KindFatal, msg, cause) }
func NotFound(msg string) *Error                    { return new(KindNotFound, msg, nil) }
func Timeout(msg string, cause error) *Error        { return new(KindTimeout, msg, cause) }
func Cancelled(msg string) *Error                   { return new(KindCancelled, msg, nil) }

// KindOf classifies an arbitrary error, defaulting to KindFatal when the
// error does not carry one of our own Kinds. This is the mapping point
// protocol adapters use at their boundary.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
