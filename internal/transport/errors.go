package transport

import "errors"

// Kind classifies a transport failure for callers and for HTTP mapping.
type Kind string

const (
	// KindValidation marks input rejected before any network call.
	KindValidation Kind = "validation"
	// KindUnauthorized maps 401/403; the caller should prompt re-auth upstream.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound maps 404; local state may reference a deleted server entity.
	KindNotFound Kind = "not_found"
	// KindTimeout marks a deadline expiry; calls never hang past their class timeout.
	KindTimeout Kind = "timeout"
	// KindServer maps 5xx and malformed payloads.
	KindServer Kind = "server"
)

// Error is the only error type that crosses the transport boundary.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// NewError constructs a transport Error.
func NewError(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, HTTPStatus: status, Message: msg}
}

// ErrValidation builds a validation error (no network call was made).
func ErrValidation(msg string) *Error { return NewError(KindValidation, 0, msg) }

func kindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsValidation reports whether err was rejected before the network.
func IsValidation(err error) bool { k, ok := kindOf(err); return ok && k == KindValidation }

// IsUnauthorized reports whether err maps to 401/403.
func IsUnauthorized(err error) bool { k, ok := kindOf(err); return ok && k == KindUnauthorized }

// IsNotFound reports whether err maps to 404.
func IsNotFound(err error) bool { k, ok := kindOf(err); return ok && k == KindNotFound }

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool { k, ok := kindOf(err); return ok && k == KindTimeout }

// IsServer reports whether err maps to 5xx or a malformed payload.
func IsServer(err error) bool { k, ok := kindOf(err); return ok && k == KindServer }
