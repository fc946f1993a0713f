package cnst

// Request and response headers
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderAuthorization   = "Authorization"
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderSessionToken    = "X-Session-Token"
	HeaderRetryAfter      = "Retry-After"
	HeaderRateLimit       = "X-RateLimit-Limit"
	HeaderRateRemaining   = "X-RateLimit-Remaining"
	HeaderRateReset       = "X-RateLimit-Reset"
)

// Keys stored on the gin context by interceptors
const (
	CtxKeyRequestID = "oauthd.request_id"
	CtxKeyClient    = "oauthd.client"
	CtxKeyToken     = "oauthd.token"
	CtxKeyUserID    = "oauthd.user_id"
	CtxKeyLang      = "oauthd.lang"
)

const (
	// BearerRealm is advertised in WWW-Authenticate challenges
	BearerRealm = "oauth"
	// TokenTypeBearer is the token_type returned from the token endpoint
	TokenTypeBearer = "Bearer"
	// GrantTypeAuthorizationCode is the only supported grant
	GrantTypeAuthorizationCode = "authorization_code"
)
