package apperr

import (
	"errors"
	"net/http"
)

var statusByKind = map[Kind]int{
	KindInvalidCredentials: http.StatusUnauthorized,
	KindTokenExpired:       http.StatusUnauthorized,
	KindInvalidToken:       http.StatusUnauthorized,
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindEmailConflict:      http.StatusConflict,
	KindConflict:           http.StatusConflict,
	KindMissingTenantInfo:  http.StatusBadRequest,
	KindValidation:         http.StatusBadRequest,
	KindNoTenant:           http.StatusUnauthorized,
	KindTenantNotFound:     http.StatusNotFound,
	KindOrderNotFound:      http.StatusNotFound,
	KindNotFound:           http.StatusNotFound,
	KindInvalidTransition:  http.StatusUnprocessableEntity,
	KindOrderCreateFailed:  http.StatusInternalServerError,
	KindOrderUpdateFailed:  http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to show a client: the *Error message
// without its cause, or a generic message for anything internal.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "internal server error"
	}
	return e.Message
}
