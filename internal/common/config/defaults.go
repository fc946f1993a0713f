package config

import "time"

// Rate-limit buckets used by the HTTP surface
const (
	BucketAuthorize = "authorize"
	BucketToken     = "token"
	BucketUserInfo  = "userinfo"
	BucketValidate  = "validate"
	BucketRevoke    = "revoke"
)

// DefaultPolicies are the per-endpoint budgets applied when none are configured
var DefaultPolicies = map[string]PolicyConfig{
	BucketAuthorize: {Window: 15 * time.Minute, MaxRequests: 10},
	BucketToken:     {Window: time.Minute, MaxRequests: 30},
	BucketUserInfo:  {Window: time.Minute, MaxRequests: 100},
	BucketValidate:  {Window: time.Minute, MaxRequests: 200},
	BucketRevoke:    {Window: time.Minute, MaxRequests: 10},
}

// SetDefaults fills in zero values
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5236
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "oauth"
	}

	if c.OAuth.CodeTTL <= 0 {
		c.OAuth.CodeTTL = 10 * time.Minute
	}
	if c.OAuth.AccessTokenTTL <= 0 {
		c.OAuth.AccessTokenTTL = time.Hour
	}
	if c.OAuth.RefreshWindow <= 0 {
		c.OAuth.RefreshWindow = 30 * 24 * time.Hour
	}
	if c.OAuth.EarlyRefresh <= 0 {
		c.OAuth.EarlyRefresh = 5 * time.Minute
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = []string{"read", "write", "profile", "email"}
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "oauthd_session"
	}
	if c.Session.Duration <= 0 {
		c.Session.Duration = 12 * time.Hour
	}

	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = "ratelimit"
	}
	if c.RateLimit.Policies == nil {
		c.RateLimit.Policies = make(map[string]PolicyConfig, len(DefaultPolicies))
	}
	for bucket, p := range DefaultPolicies {
		if _, ok := c.RateLimit.Policies[bucket]; !ok {
			c.RateLimit.Policies[bucket] = p
		}
	}

	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = []string{"Authorization", "Content-Type"}
	}
	if len(c.CORS.ExposeHeaders) == 0 {
		c.CORS.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"}
	}

	if c.Cleanup.Mode == "" {
		c.Cleanup.Mode = "timer"
	}
	if c.Cleanup.Interval <= 0 {
		c.Cleanup.Interval = 10 * time.Minute
	}
	if c.Cleanup.BatchSize <= 0 {
		c.Cleanup.BatchSize = 100
	}
	if c.Cleanup.SampleRate <= 0 {
		c.Cleanup.SampleRate = 0.01
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "oauthd"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "oauthd"
	}

	if c.I18n.DefaultLang == "" {
		c.I18n.DefaultLang = "en"
	}
}
