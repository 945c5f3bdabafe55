package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies one failure class surfaced to callers. The strings are
// part of the wire format: redirect flows carry them in the error query
// parameter and JSON flows in the error field.
type ErrorCode string

const (
	ErrCodeDisabledEndpoint             ErrorCode = "disabled-endpoint"
	ErrCodeInvalidOAuthConfiguration    ErrorCode = "invalid-oauth-configuration"
	ErrCodeInvalidRequest               ErrorCode = "invalid-request"
	ErrCodeInternalError                ErrorCode = "internal-error"
	ErrCodeUserNotFound                 ErrorCode = "user-not-found"
	ErrCodeInvalidWebAuthnAuthenticator ErrorCode = "invalid-webauthn-authenticator"
	ErrCodeInvalidWebAuthnVerification  ErrorCode = "invalid-webauthn-verification"
	ErrCodeInvalidRefreshToken          ErrorCode = "invalid-refresh-token"
)

// Error is a caller-visible authentication failure. Message is safe to show
// to end users; anything sensitive stays in the server log.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error for the given code
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts an *Error from err's chain. Anything else is reported as
// internal-error with the error's own message.
func AsError(err error) *Error {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return &Error{Code: ErrCodeInternalError, Message: err.Error()}
}

// HTTPStatus maps an error code to the response status for JSON surfaces
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeUserNotFound:
		return http.StatusNotFound
	case ErrCodeDisabledEndpoint:
		return http.StatusNotFound
	case ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
