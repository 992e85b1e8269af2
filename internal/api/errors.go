// ABOUTME: Error taxonomy for API calls: unauthorized, precondition, not-found, transient, validation.
// ABOUTME: Only the unauthorized kind is handled inside the client; everything else surfaces to the caller.

package api

import (
	"errors"
	"fmt"
)

// Kind classifies an API error for routing decisions.
type Kind int

const (
	// KindTransient covers network failures and server errors. Never retried
	// automatically beyond the single authorization-triggered retry.
	KindTransient Kind = iota

	// KindUnauthorized means the credential was missing or expired and refresh
	// did not recover it. Terminal for the call.
	KindUnauthorized

	// KindPrecondition means the call was rejected locally before any request
	// was issued (empty input, target not ready, missing confirmation).
	KindPrecondition

	// KindNotFound means the requested entity does not exist on the server.
	KindNotFound

	// KindValidation means the server rejected the request content.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "transient"
	}
}

// Error is a classified API failure with a human-readable message.
// Status carries the HTTP status code when the server reported one.
type Error struct {
	Kind    Kind
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unauthorized creates a terminal authorization error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Status: 401}
}

// Precondition creates a local rejection raised before any network call.
func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// Transient creates a retryable-by-the-user failure (network, server error).
func Transient(message string) *Error {
	return &Error{Kind: KindTransient, Message: message}
}

// KindOf returns the classification of err, or KindTransient when err is not
// an *Error (wrapped transport failures, context errors).
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthorized
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsPrecondition reports whether err is a local precondition failure.
func IsPrecondition(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindPrecondition
}

// Message extracts a presentable message from err. For classified errors the
// server-reported message is returned verbatim; anything else falls back to
// err.Error().
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// classify maps an HTTP status and server-reported message to an *Error.
func classify(status int, message string) *Error {
	e := &Error{Message: message, Status: status}
	switch {
	case status == 401:
		e.Kind = KindUnauthorized
	case status == 404:
		e.Kind = KindNotFound
	case status == 400 || status == 422:
		e.Kind = KindValidation
	default:
		e.Kind = KindTransient
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("server returned status %d", status)
	}
	return e
}
