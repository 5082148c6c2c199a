package api

import (
	"errors"
	"fmt"
)

// Error kinds the remote service reports. The kind, not the HTTP status,
// drives client behavior: rejected mutations roll back and surface a
// notification, and nothing here is ever retried automatically.
const (
	KindValidation   = "validation"    // request content rejected
	KindStateIllegal = "state_illegal" // action not legal in the run's state
	KindForbidden    = "forbidden"     // actor lacks the role
	KindUnauthorized = "unauthorized"  // missing or expired credential
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindInternal     = "internal" // server fault or undecodable error body
)

// Error is a rejection from the remote service.
type Error struct {
	// Kind categorizes the rejection.
	Kind string

	// Message is the human-readable reason, shown in notifications.
	Message string

	// Status is the HTTP status the response carried.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote rejected: %s (%s, http %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("remote rejected: %s (http %d)", e.Kind, e.Status)
}

// IsKind reports whether err is a remote rejection of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsRejection reports whether err is any remote rejection, as opposed to a
// transport failure.
func IsRejection(err error) bool {
	var ae *Error
	return errors.As(err, &ae)
}
