// Package unbrowseerr implements the eight-kind error taxonomy of spec.md
// §7: one sentinel Kind per failure class, constructed with a helper per
// kind so callers never pick an HTTP status themselves.
package unbrowseerr

import (
	"errors"
	"fmt"
)

// Kind names one of the eight failure classes spec.md §7 defines.
type Kind string

const (
	KindInput               Kind = "input"
	KindNotFound            Kind = "not_found"
	KindAuthRequired        Kind = "auth_required"
	KindCaptureInFlight     Kind = "capture_in_flight"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindReplayMismatch      Kind = "replay_mismatch"
	KindScheduleError       Kind = "schedule_error"
	KindInternal            Kind = "internal"
)

// Error is the one error type every component in this module returns or
// wraps; Kind drives the control service's status-code mapping in one
// place instead of each handler picking its own.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// InputError wraps a missing or malformed argument (intent, url, skill_id).
func InputError(message string) *Error {
	return newErr(KindInput, "input", message, nil)
}

// NotFound wraps an unknown skill, endpoint, or session lookup.
func NotFound(message string) *Error {
	return newErr(KindNotFound, "not_found", message, nil)
}

// AuthRequired marks a captured request attempted without usable auth
// state. Callers surface this in a 200 payload (auth_recommended,
// auth_hint), not as an HTTP error status — see spec.md §7 kind 3.
func AuthRequired(message string) *Error {
	return newErr(KindAuthRequired, "auth_required", message, nil)
}

// CaptureInFlight wraps a rejected concurrent capture for a domain already
// being captured.
func CaptureInFlight(message string) *Error {
	return newErr(KindCaptureInFlight, "capture_in_flight", message, nil)
}

// UpstreamUnavailable wraps a marketplace or target-site timeout/outage.
func UpstreamUnavailable(message string, cause error) *Error {
	return newErr(KindUpstreamUnavailable, "upstream_unavailable", message, cause)
}

// ReplayMismatch wraps a correlation graph reference to a missing or null
// source runtime value at replay time.
func ReplayMismatch(message string) *Error {
	return newErr(KindReplayMismatch, "replay_mismatch", message, nil)
}

// ScheduleError wraps a failed token-refresh attempt.
func ScheduleError(message string, cause error) *Error {
	return newErr(KindScheduleError, "schedule_error", message, cause)
}

// Internal wraps anything else; never include raw secrets in message.
func Internal(message string, cause error) *Error {
	return newErr(KindInternal, "internal", message, cause)
}

// As extracts an *Error from err, unwrapping %w chains via stdlib errors.As.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
