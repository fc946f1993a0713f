package errorx

import "errors"

// Store lookups report these for normal negative outcomes. Anything else
// returned by a store is an infrastructure failure.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientAlreadyExists       = errors.New("client already exists")
	ErrUserNotFound              = errors.New("user not found")
	ErrTokenNotFound             = errors.New("token not found")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeConsumed = errors.New("authorization code already consumed")
	ErrAuthorizationCodeExpired  = errors.New("authorization code expired")
)
