// Package apperr defines the error taxonomy shared by the service layers.
//
// Every failure that crosses a package boundary is an *Error carrying a
// stable Kind. Transport code maps the Kind to a status code; the wrapped
// cause stays server-side for logging.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable error category. Clients switch on
// it; messages may change freely.
type Kind string

const (
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindTokenExpired       Kind = "TOKEN_EXPIRED"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindEmailConflict      Kind = "EMAIL_CONFLICT"
	KindMissingTenantInfo  Kind = "MISSING_TENANT_INFO"
	KindNoTenant           Kind = "NO_TENANT"
	KindTenantNotFound     Kind = "TENANT_NOT_FOUND"
	KindOrderNotFound      Kind = "ORDER_NOT_FOUND"
	KindOrderCreateFailed  Kind = "ORDER_CREATE_FAILED"
	KindOrderUpdateFailed  Kind = "ORDER_UPDATE_FAILED"
	KindInvalidTransition  Kind = "INVALID_STATUS_TRANSITION"
	KindConflict           Kind = "CONFLICT"
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindInternal           Kind = "INTERNAL"
)

// Error is a domain error. Message is safe to show to clients; Err, when
// set, is the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrOrderNotFound) holds for any
// *Error of that kind, regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches err as the cause. errors.Is still matches on kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials = New(KindInvalidCredentials, "invalid email or password")
	ErrTokenExpired       = New(KindTokenExpired, "token expired")
	ErrInvalidToken       = New(KindInvalidToken, "invalid token")
	ErrUnauthorized       = New(KindUnauthorized, "unauthorized")
	ErrForbidden          = New(KindForbidden, "insufficient role")
	ErrEmailConflict      = New(KindEmailConflict, "email already registered")
	ErrMissingTenantInfo  = New(KindMissingTenantInfo, "either tenant id or company name must be provided")
	ErrNoTenant           = New(KindNoTenant, "user has no associated tenant")
	ErrTenantNotFound     = New(KindTenantNotFound, "tenant not found")
	ErrOrderNotFound      = New(KindOrderNotFound, "order not found")
	ErrOrderCreateFailed  = New(KindOrderCreateFailed, "failed to create order")
	ErrOrderUpdateFailed  = New(KindOrderUpdateFailed, "failed to update order")
	ErrInvalidTransition  = New(KindInvalidTransition, "invalid status transition")
	ErrConflict           = New(KindConflict, "conflict")
	ErrValidation         = New(KindValidation, "validation failed")
	ErrNotFound           = New(KindNotFound, "not found")
	ErrInternal           = New(KindInternal, "internal error")
)
