// Package apierr defines the typed error taxonomy transported in HTTP
// responses: not_found, invalid_state, invalid_argument, outside_geofence,
// unavailable, internal. Every layer wraps with fmt.Errorf("...: %w") so
// errors.As still finds the *Error underneath.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy values handlers map to HTTP status codes.
type Kind string

const (
	NotFound         Kind = "not_found"
	InvalidState     Kind = "invalid_state"
	InvalidArgument  Kind = "invalid_argument"
	OutsideGeofence  Kind = "outside_geofence"
	Unavailable      Kind = "unavailable"
	Internal         Kind = "internal"
)

// Error is the typed error carried through the stack and serialized in
// HTTP responses as {kind, message}.
type Error struct {
	K   Kind
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.K, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.K, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the error's taxonomy kind; it is used by HTTP handlers to
// pick a status code and by tests to assert on failure modes.
func (e *Error) KindOf() Kind { return e.K }

func newErr(k Kind, msg string, args ...interface{}) *Error {
	return &Error{K: k, Msg: fmt.Sprintf(msg, args...)}
}

func NotFoundf(msg string, args ...interface{}) *Error {
	return newErr(NotFound, msg, args...)
}

func InvalidStatef(msg string, args ...interface{}) *Error {
	return newErr(InvalidState, msg, args...)
}

func InvalidArgumentf(msg string, args ...interface{}) *Error {
	return newErr(InvalidArgument, msg, args...)
}

func OutsideGeofencef(msg string, args ...interface{}) *Error {
	return newErr(OutsideGeofence, msg, args...)
}

func Unavailablef(err error, msg string, args ...interface{}) *Error {
	return &Error{K: Unavailable, Msg: fmt.Sprintf(msg, args...), Err: err}
}

func Internalf(err error, msg string, args ...interface{}) *Error {
	return &Error{K: Internal, Msg: fmt.Sprintf(msg, args...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Internal
}

// Message extracts the short message from err, falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
