// Package apperr defines the failure taxonomy of a recognition call.
// Every failure is terminal for the call; callers classify with IsKind/IsReason.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the top-level failure class.
type Kind string

const (
	KindConfig    Kind = "config"
	KindImage     Kind = "image"
	KindTransport Kind = "transport"
	KindResponse  Kind = "response"
)

// Reason narrows a Kind.
type Reason string

const (
	ReasonMissingAPIKey Reason = "missing_api_key"
	ReasonDecode        Reason = "decode"
	ReasonTooLarge      Reason = "too_large"
	ReasonConnection    Reason = "connection"
	ReasonTimeout       Reason = "timeout"
	ReasonParse         Reason = "parse"
	ReasonShape         Reason = "shape"
)

// Error is the typed error returned by every stage of the pipeline.
type Error struct {
	Kind    Kind
	Reason  Reason
	Op      string
	Message string
	Cause   error
	// Body holds the raw upstream body. Only set for response parse failures.
	Body string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Reason, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Reason, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error without a cause.
func New(kind Kind, reason Reason, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Reason:  reason,
		Op:      op,
		Message: message,
	}
}

// Wrap builds an Error around err. An err that already carries an *Error is returned as is.
func Wrap(kind Kind, reason Reason, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Reason:  reason,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// IsReason reports whether err carries an *Error with the given reason.
func IsReason(err error, reason Reason) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Reason == reason
	}
	return false
}

// KindOf returns the kind and reason of err, or empty values for untyped errors.
func KindOf(err error) (Kind, Reason) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, target.Reason
	}
	return "", ""
}

// Body returns the diagnostic upstream body attached to err, if any.
func Body(err error) (string, bool) {
	var target *Error
	if errors.As(err, &target) && target.Reason == ReasonParse {
		return target.Body, true
	}
	return "", false
}
