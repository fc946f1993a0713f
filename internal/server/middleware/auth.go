package middleware

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/session"
	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/auth/token"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
)

// ClientCredentials returns client_id and client_secret from HTTP Basic
// auth, a JSON body or a form body. basic reports whether the header was used.
func ClientCredentials(c *gin.Context) (id, secret string, basic bool) {
	if u, p, ok := c.Request.BasicAuth(); ok {
		// RFC 6749 2.3.1 form-encodes both parts
		if du, err := url.QueryUnescape(u); err == nil {
			u = du
		}
		if dp, err := url.QueryUnescape(p); err == nil {
			p = dp
		}
		return u, p, true
	}
	if isJSON(c) {
		body := jsonBody(c)
		return gjson.GetBytes(body, "client_id").String(), gjson.GetBytes(body, "client_secret").String(), false
	}
	return c.PostForm("client_id"), c.PostForm("client_secret"), false
}

// ClientAuth authenticates the calling client on token and revoke requests
type ClientAuth struct {
	registry  *client.Registry
	responder *Responder
}

func NewClientAuth(registry *client.Registry, responder *Responder) *ClientAuth {
	return &ClientAuth{registry: registry, responder: responder}
}

func (ClientAuth) Name() string { return "client_auth" }

func (a *ClientAuth) Intercept(c *gin.Context) {
	id, secret, basic := ClientCredentials(c)
	if id == "" || secret == "" {
		a.responder.Abort(c, errorx.ErrMissingClientCredentials)
		return
	}

	cl, err := a.registry.ValidateClientCredentials(c.Request.Context(), id, secret)
	if err != nil {
		if basic && errors.Is(err, errorx.ErrInvalidClient) {
			c.Header(cnst.HeaderWWWAuthenticate, fmt.Sprintf(`Basic realm="%s"`, cnst.BearerRealm))
		}
		a.responder.Abort(c, err)
		return
	}
	c.Set(cnst.CtxKeyClient, cl)
	c.Next()
}

// AuthenticatedClient returns the client stored by ClientAuth
func AuthenticatedClient(c *gin.Context) *storage.Client {
	if v, ok := c.Get(cnst.CtxKeyClient); ok {
		if cl, ok := v.(*storage.Client); ok {
			return cl
		}
	}
	return nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header
func BearerToken(c *gin.Context) string {
	h := c.GetHeader(cnst.HeaderAuthorization)
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// BearerAuth validates the access token of protected calls
type BearerAuth struct {
	tokens    *token.Manager
	responder *Responder
}

func NewBearerAuth(tokens *token.Manager, responder *Responder) *BearerAuth {
	return &BearerAuth{tokens: tokens, responder: responder}
}

func (BearerAuth) Name() string { return "bearer_auth" }

func (a *BearerAuth) Intercept(c *gin.Context) {
	tok := BearerToken(c)
	if tok == "" {
		c.Header(cnst.HeaderWWWAuthenticate, fmt.Sprintf(`Bearer realm="%s"`, cnst.BearerRealm))
		a.responder.Abort(c, errorx.ErrUnauthorized)
		return
	}

	v, err := a.tokens.ValidateTokenWithTiming(c.Request.Context(), tok)
	if err != nil {
		a.responder.Abort(c, err)
		return
	}
	if !v.Valid {
		c.Header(cnst.HeaderWWWAuthenticate, fmt.Sprintf(`Bearer realm="%s", error="invalid_token"`, cnst.BearerRealm))
		a.responder.Abort(c, errorx.ErrInvalidToken)
		return
	}
	c.Set(cnst.CtxKeyToken, v)
	c.Next()
}

// TokenValidation returns the result stored by BearerAuth
func TokenValidation(c *gin.Context) *token.Validation {
	if v, ok := c.Get(cnst.CtxKeyToken); ok {
		if tv, ok := v.(*token.Validation); ok {
			return tv
		}
	}
	return nil
}

// SessionAuth identifies the end user from a session cookie or header
type SessionAuth struct {
	sessions   *session.Service
	cookieName string
	responder  *Responder
}

func NewSessionAuth(sessions *session.Service, cookieName string, responder *Responder) *SessionAuth {
	return &SessionAuth{sessions: sessions, cookieName: cookieName, responder: responder}
}

func (SessionAuth) Name() string { return "session_auth" }

func (a *SessionAuth) Intercept(c *gin.Context) {
	raw := c.GetHeader(cnst.HeaderSessionToken)
	if raw == "" {
		raw, _ = c.Cookie(a.cookieName)
	}
	if raw == "" {
		a.responder.Abort(c, errorx.ErrSessionRequired)
		return
	}

	claims, err := a.sessions.Verify(raw)
	if err != nil {
		a.responder.Abort(c, errorx.ErrSessionRequired)
		return
	}
	c.Set(cnst.CtxKeyUserID, claims.UserID())
	c.Next()
}

// SessionUserID returns the user id stored by SessionAuth
func SessionUserID(c *gin.Context) string {
	return c.GetString(cnst.CtxKeyUserID)
}
