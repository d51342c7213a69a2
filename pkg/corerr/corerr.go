// Package corerr defines the error taxonomy shared by every subsystem.
//
// Every error that crosses a subsystem boundary is either a *corerr.Error
// with one of the Kinds below, or gets wrapped into one at the boundary.
// Callers use errors.As to recover the Kind and decide whether to retry,
// surface, or swallow.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the propagation policy in spec §7.
type Kind string

const (
	// KindTransientUpstream covers network errors, 5xx, and 429 responses
	// from the upstream ServiceNow API. Retryable with backoff.
	KindTransientUpstream Kind = "transient_upstream"

	// KindAuthExpired covers a 401 from upstream. Retry once after a
	// credential refresh; surface if the retry also 401s.
	KindAuthExpired Kind = "auth_expired"

	// KindNotFound covers a 404 on a specific-id fetch. Callers map this to
	// an empty result rather than treating it as an error.
	KindNotFound Kind = "not_found"

	// KindValidation covers malformed payloads, invalid state transitions,
	// and schema violations. Never retried.
	KindValidation Kind = "validation"

	// KindRateLimited covers internal or upstream rate limiting. Never
	// retried inline; the caller either rejects or honors retry-after.
	KindRateLimited Kind = "rate_limited"

	// KindFatal covers the document store or event bus being unreachable
	// at startup, or becoming unreachable at runtime (degraded mode).
	KindFatal Kind = "fatal"
)

// Error is the concrete error type every surfaced error satisfies.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is populated for KindRateLimited when the source advertised
	// a reset time; zero value means unknown.
	RetryAfterSeconds int
	// FromState/ToState are populated for KindValidation state-transition
	// failures so the caller can render "current vs requested state".
	FromState string
	ToState   string

	err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.err.Error())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.err }

// Is allows errors.Is(err, corerr.Kind) style checks by matching on Kind
// whenever the target is itself a *Error; its wrapped error is ignored.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New creates a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps err as the given kind, preserving it for errors.Unwrap.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// Transition builds a KindValidation error describing a rejected state
// transition, naming both the current and requested state per spec §7.
func Transition(from, to string) *Error {
	return &Error{
		Kind:      KindValidation,
		Message:   fmt.Sprintf("invalid state transition %s -> %s", from, to),
		FromState: from,
		ToState:   to,
	}
}

// RateLimited builds a KindRateLimited error naming the source and the
// reset time in seconds.
func RateLimited(source string, retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Message:           fmt.Sprintf("rate limit exceeded for %s", source),
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}
