// SPDX-License-Identifier: MIT

// Package apperr defines the error taxonomy shared across the runtime:
// Validation, NotFound, Transport, SceneError, Persistence, and Fatal.
// Callers classify an error with KindOf, which finds the *Error in its
// chain with errors.As; the router and
// API layers map a Kind to an HTTP status and a bus /error payload.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions: whether it is
// surfaced to the client, counted in metrics, or fatal to the process.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindTransport
	KindScene
	KindPersistence
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindScene:
		return "scene_error"
	case KindPersistence:
		return "persistence"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so the caller can decide how
// to propagate it without string-matching the message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindFatal for an error that
// never passed through this package (an unclassified error is treated as
// the most conservative case).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

func Validationf(format string, args ...any) error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}
