// Package governance implements the skill governance core: the lifecycle
// state machine, the orchestration service that owns all mutations, the
// per-skill serialization, and the error taxonomy surfaced to callers.
package governance

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// ErrorKind classifies a governance error for callers that need to react
// programmatically (HTTP status mapping, retry decisions).
type ErrorKind string

// Error kinds. ConcurrentModification is never retried internally: the
// caller must re-fetch and re-apply intent. Persistence failures leave
// nothing observable changed and are safe to retry wholesale.
const (
	KindNotFound               ErrorKind = "not_found"
	KindInvalidTransition      ErrorKind = "invalid_transition"
	KindValidation             ErrorKind = "validation"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindPersistence            ErrorKind = "persistence"
)

// Error is the structured error type returned by all governance
// operations. CurrentStatus is populated for invalid transitions so the
// caller can render the actual state.
type Error struct {
	Kind          ErrorKind
	Message       string
	CurrentStatus governance.Status
	cause         error
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidTransition && e.CurrentStatus != "" {
		return fmt.Sprintf("%s (current status: %s)", e.Message, e.CurrentStatus)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// NewNotFound reports a missing skill, scan, or test.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransition reports a state machine rejection, carrying the
// skill's actual current status.
func NewInvalidTransition(current governance.Status, format string, args ...any) *Error {
	return &Error{
		Kind:          KindInvalidTransition,
		Message:       fmt.Sprintf(format, args...),
		CurrentStatus: current,
	}
}

// NewValidation rejects an action before any state mutation is attempted.
func NewValidation(cause error) *Error {
	return &Error{Kind: KindValidation, Message: cause.Error(), cause: cause}
}

// NewConcurrentModification reports that a competing operation on the
// same skill committed first.
func NewConcurrentModification(skillID string) *Error {
	return &Error{
		Kind:    KindConcurrentModification,
		Message: fmt.Sprintf("skill %s was modified concurrently; re-fetch and retry", skillID),
	}
}

// NewPersistence wraps a storage failure. Nothing observable has changed
// when this is returned.
func NewPersistence(cause error, message string) *Error {
	return &Error{Kind: KindPersistence, Message: message, cause: errors.Wrap(cause, message)}
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not-found governance error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalidTransition reports whether err is a state machine rejection.
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }

// IsValidation reports whether err is a pre-mutation validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConcurrentModification reports whether err is a lost write race.
func IsConcurrentModification(err error) bool { return KindOf(err) == KindConcurrentModification }

// IsPersistence reports whether err is a transient storage failure.
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }
