package errorx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// OAuth2Error is the RFC 6749 error body. ErrorCode narrows ErrorType for
// logging and message lookup and is never serialized.
type OAuth2Error struct {
	ErrorType        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	ErrorCode        string `json:"-"`
	HTTPStatus       int    `json:"-"`
}

func (e *OAuth2Error) Error() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// Is matches on type and code so copies made by WithDescription still
// satisfy errors.Is against the sentinels.
func (e *OAuth2Error) Is(target error) bool {
	var t *OAuth2Error
	if !errors.As(target, &t) {
		return false
	}
	return e.ErrorType == t.ErrorType && e.ErrorCode == t.ErrorCode
}

// WithDescription returns a copy carrying desc as error_description
func (e *OAuth2Error) WithDescription(desc string) *OAuth2Error {
	cp := *e
	cp.ErrorDescription = desc
	return &cp
}

// MessageID is the translation key of the error description
func (e *OAuth2Error) MessageID() string {
	if e.ErrorCode != "" {
		return "oauth_" + e.ErrorCode
	}
	return "oauth_" + e.ErrorType
}

var (
	ErrInvalidRequest = &OAuth2Error{
		ErrorType:  "invalid_request",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidClient = &OAuth2Error{
		ErrorType:  "invalid_client",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidGrant = &OAuth2Error{
		ErrorType:  "invalid_grant",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidScope = &OAuth2Error{
		ErrorType:  "invalid_scope",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidToken = &OAuth2Error{
		ErrorType:  "invalid_token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrUnauthorized = &OAuth2Error{
		ErrorType:  "unauthorized",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrAccessDenied = &OAuth2Error{
		ErrorType:  "access_denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrRateLimitExceeded = &OAuth2Error{
		ErrorType:  "rate_limit_exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrUnsupportedGrantType = &OAuth2Error{
		ErrorType:  "unsupported_grant_type",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrServerError = &OAuth2Error{
		ErrorType:  "server_error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrInvalidRedirectURI = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "invalid_redirect_uri",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidState = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "invalid_state",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMissingClientCredentials = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "missing_client_credentials",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrSessionRequired = &OAuth2Error{
		ErrorType:  "unauthorized",
		ErrorCode:  "session_required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrUnsupportedResponseType = &OAuth2Error{
		ErrorType:  "unsupported_response_type",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrNotFound = &OAuth2Error{
		ErrorType:  "not_found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInvalidConsent = &OAuth2Error{
		ErrorType:  "invalid_request",
		ErrorCode:  "invalid_consent",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ConvertToOAuth2Error converts any error to OAuth2Error.
// An OAuth2Error in the chain is returned as is; anything else becomes
// server_error without exposing the original message.
func ConvertToOAuth2Error(err error) *OAuth2Error {
	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError
}
