package cnst

// Tracer names
const (
	TraceAuth    = "oauthd/auth"
	TraceStorage = "oauthd/storage"
	TraceCleanup = "oauthd/cleanup"
)

// Span names
const (
	SpanCodeCreate    = "oauth.code.create"
	SpanCodeExchange  = "oauth.code.exchange"
	SpanTokenCreate   = "oauth.token.create"
	SpanTokenValidate = "oauth.token.validate"
	SpanTokenRevoke   = "oauth.token.revoke"
	SpanCleanupRun    = "oauth.cleanup.run"
)

// Attribute keys
const (
	AttrClientID    = "oauth.client_id"
	AttrUserID      = "oauth.user_id"
	AttrScope       = "oauth.scope"
	AttrErrorReason = "error.reason"
	AttrDeleted     = "cleanup.deleted"
)
