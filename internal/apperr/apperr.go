// Package apperr defines the stable error kinds shared across the core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindLimitBreach      Kind = "limit_breach"
	KindTerminal         Kind = "terminal"
	KindUpstream         Kind = "upstream"
	KindPredictor        Kind = "predictor"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindIntegrity        Kind = "integrity"
	KindClosed           Kind = "closed"
	KindUnsupportedTF    Kind = "unsupported_timeframe"
	KindBroker           Kind = "broker"
	KindRejected         Kind = "rejected"
)

// Error wraps an error with a stable kind and an optional machine-readable reason.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func WithReason(kind Kind, message, reason string) *Error {
	return &Error{Kind: kind, Message: message, Reason: reason}
}

// Is reports whether err (or any wrapped error) carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// ReasonOf extracts the machine-readable reason code, if any.
func ReasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

var (
	ErrValidation       = New(KindValidation, "invalid input")
	ErrNotFound         = New(KindNotFound, "entity not found")
	ErrLimitBreach      = New(KindLimitBreach, "risk limit breach")
	ErrTerminal         = New(KindTerminal, "order already terminal")
	ErrUpstream         = New(KindUpstream, "upstream failure")
	ErrPredictor        = New(KindPredictor, "predictor failure")
	ErrDeadlineExceeded = New(KindDeadlineExceeded, "deadline exceeded")
	ErrIntegrity        = New(KindIntegrity, "integrity check failed")
	ErrClosed           = New(KindClosed, "stream closed")
	ErrUnsupportedTF    = New(KindUnsupportedTF, "unsupported timeframe")
	ErrBroker           = New(KindBroker, "broker error")
	ErrRejected         = New(KindRejected, "order rejected")
)
