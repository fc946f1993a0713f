package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/code"
	"github.com/amoylab/oauthd/internal/auth/storage"
	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/internal/server/middleware"
	"github.com/amoylab/oauthd/pkg/utils"
)

const (
	readHeaderTimeout = 10 * time.Second
	consentTTL        = 10 * time.Minute
	consentPath       = "/oauth/authorize"

	actionAuthorize = "authorize"
	actionDeny      = "deny"
)

// handleServerMetadata serves the RFC 8414 metadata document
func (s *Server) handleServerMetadata(c *gin.Context) {
	base := s.issuer(c)
	c.JSON(http.StatusOK, map[string]interface{}{
		"issuer":                 base,
		"authorization_endpoint": base + "/oauth/authorize",
		"token_endpoint":         base + "/oauth/token",
		"revocation_endpoint":    base + "/oauth/revoke",
		"userinfo_endpoint":      base + "/oauth/userinfo",
		"service_documentation":  base + "/openapi.json",
		"token_endpoint_auth_methods_supported": []string{
			"client_secret_basic",
			"client_secret_post",
		},
		"revocation_endpoint_auth_methods_supported": []string{
			"client_secret_basic",
			"client_secret_post",
		},
		"response_types_supported": []string{"code"},
		"response_modes_supported": []string{"query"},
		"grant_types_supported":    []string{cnst.GrantTypeAuthorizationCode},
		"scopes_supported":         s.cfg.OAuth.Scopes,
	})
}

// issuer prefers the configured issuer and falls back to the request host
func (s *Server) issuer(c *gin.Context) string {
	if s.cfg.Server.Issuer != "" {
		return strings.TrimRight(s.cfg.Server.Issuer, "/")
	}
	scheme := c.GetHeader("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + c.Request.Host
}

// trustedRedirect resolves the client and checks the redirect URI. Until it
// succeeds errors are answered inline, never redirected.
func (s *Server) trustedRedirect(c *gin.Context) (*storage.Client, string, bool) {
	clientID := middleware.Param(c, "client_id")
	redirectURI := middleware.Param(c, "redirect_uri")
	if clientID == "" || redirectURI == "" {
		s.responder.Abort(c, errorx.ErrInvalidRequest)
		return nil, "", false
	}

	cl, err := s.deps.Clients.GetClient(c.Request.Context(), clientID)
	if err != nil {
		if errors.Is(err, errorx.ErrClientNotFound) {
			err = errorx.ErrInvalidClient
		}
		s.responder.Abort(c, err)
		return nil, "", false
	}
	if !s.deps.Clients.ValidateRedirectURI(cl, redirectURI) {
		s.responder.Abort(c, errorx.ErrInvalidRedirectURI)
		return nil, "", false
	}
	return cl, redirectURI, true
}

// redirectError sends the user agent back to the client with an error
func (s *Server) redirectError(c *gin.Context, redirectURI, state string, err error) {
	oe := s.responder.Describe(c, err, nil)
	q := url.Values{"error": {oe.ErrorType}}
	if oe.ErrorDescription != "" {
		q.Set("error_description", oe.ErrorDescription)
	}
	if state != "" {
		q.Set("state", state)
	}
	s.redirect(c, redirectURI, q)
}

func (s *Server) redirect(c *gin.Context, redirectURI string, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		s.responder.Abort(c, errorx.ErrInvalidRedirectURI)
		return
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

func (s *Server) consentCookie() string {
	return s.cfg.Session.CookieName + "_consent"
}

func secureRequest(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}

// handleAuthorizeConsent validates an authorization request and describes
// the consent the signed-in user is asked for
func (s *Server) handleAuthorizeConsent(c *gin.Context) {
	cl, redirectURI, ok := s.trustedRedirect(c)
	if !ok {
		return
	}
	state := c.Query("state")

	if rt := c.Query("response_type"); rt != "code" {
		s.redirectError(c, redirectURI, state, errorx.ErrUnsupportedResponseType)
		return
	}
	scopes := client.ParseScope(c.Query("scope"))
	if invalid := s.deps.Clients.ValidateScopes(cl, scopes); len(invalid) > 0 {
		s.logger.Debug("rejected scopes", zap.String("client_id", cl.ID), zap.Strings("scopes", invalid))
		s.redirectError(c, redirectURI, state, errorx.ErrInvalidScope)
		return
	}

	consent, err := utils.RandomToken(32)
	if err != nil {
		s.responder.Abort(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.consentCookie(), consent, int(consentTTL.Seconds()), consentPath, "", secureRequest(c), true)

	if scopes == nil {
		scopes = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id":     cl.ID,
		"client_name":   cl.Name,
		"redirect_uri":  redirectURI,
		"scope":         strings.Join(scopes, " "),
		"scopes":        scopes,
		"state":         state,
		"consent_token": consent,
	})
}

// handleAuthorizeDecision records the user's answer and redirects back to
// the client with a code or access_denied
func (s *Server) handleAuthorizeDecision(c *gin.Context) {
	cl, redirectURI, ok := s.trustedRedirect(c)
	if !ok {
		return
	}
	state := middleware.Param(c, "state")

	expected, _ := c.Cookie(s.consentCookie())
	presented := middleware.Param(c, "consent_token")
	if !middleware.SecureValidateState(&expected, &presented) {
		s.responder.Abort(c, errorx.ErrInvalidConsent)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.consentCookie(), "", -1, consentPath, "", secureRequest(c), true)

	switch middleware.Param(c, "action") {
	case actionDeny:
		s.redirectError(c, redirectURI, state, errorx.ErrAccessDenied)
	case actionAuthorize:
		req := code.Request{
			ClientID:    cl.ID,
			RedirectURI: redirectURI,
			Scope:       middleware.Param(c, "scope"),
			UserID:      middleware.SessionUserID(c),
		}
		if state != "" {
			req.State = &state
		}
		value, err := s.deps.Codes.CreateAuthorizationCode(c.Request.Context(), req)
		if err != nil {
			s.redirectError(c, redirectURI, state, err)
			return
		}
		q := url.Values{"code": {value}}
		if state != "" {
			q.Set("state", state)
		}
		s.redirect(c, redirectURI, q)
	default:
		s.redirectError(c, redirectURI, state, errorx.ErrInvalidRequest)
	}
}

// handleToken exchanges an authorization code for a bearer token
func (s *Server) handleToken(c *gin.Context) {
	switch middleware.Param(c, "grant_type") {
	case cnst.GrantTypeAuthorizationCode:
	case "":
		s.responder.Abort(c, errorx.ErrInvalidRequest)
		return
	default:
		s.responder.Abort(c, errorx.ErrUnsupportedGrantType)
		return
	}

	codeValue := middleware.Param(c, "code")
	redirectURI := middleware.Param(c, "redirect_uri")
	if codeValue == "" || redirectURI == "" {
		s.responder.Abort(c, errorx.ErrInvalidRequest)
		return
	}

	cl := middleware.AuthenticatedClient(c)
	tok, err := s.deps.Codes.ExchangeCode(c.Request.Context(), codeValue, cl.ID, redirectURI)
	if err != nil {
		s.responder.Abort(c, err)
		return
	}

	resp := gin.H{
		"access_token": tok.AccessToken,
		"expires_in":   int64(tok.ExpiresAt.Sub(tok.CreatedAt).Seconds()),
		"token_type":   cnst.TokenTypeBearer,
		"scope":        tok.Scope,
	}
	if tok.HasRefreshToken() {
		resp["refresh_token"] = *tok.RefreshToken
	}
	c.JSON(http.StatusOK, resp)
}

// handleValidate reports on the bearer token of the request
func (s *Server) handleValidate(c *gin.Context) {
	v := middleware.TokenValidation(c)
	c.JSON(http.StatusOK, gin.H{
		"valid":          v.Valid,
		"user":           v.User,
		"expires_in":     int64(v.ExpiresIn.Seconds()),
		"should_refresh": v.ShouldRefresh,
		"client_id":      v.ClientID,
		"scope":          v.Scope,
	})
}

// handleUserInfo returns the profile of the token owner
func (s *Server) handleUserInfo(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.TokenValidation(c).User)
}

// handleRevoke removes a single token or every token a user granted the
// calling client. Tokens of other clients are left alone.
func (s *Server) handleRevoke(c *gin.Context) {
	cl := middleware.AuthenticatedClient(c)
	ctx := c.Request.Context()

	if tok := middleware.Param(c, "token"); tok != "" {
		info, err := s.deps.Tokens.GetTokenInfo(ctx, tok)
		if err != nil {
			s.responder.Abort(c, err)
			return
		}
		// unknown tokens are not an error (RFC 7009 2.2)
		if info != nil && info.Token.ClientID == cl.ID {
			if err := s.deps.Tokens.RevokeToken(ctx, tok); err != nil {
				s.responder.Abort(c, err)
				return
			}
		}
		c.Status(http.StatusOK)
		return
	}

	if userID := middleware.Param(c, "user_id"); userID != "" {
		n, err := s.deps.Tokens.RevokeUserClientTokens(ctx, userID, cl.ID)
		if err != nil {
			s.responder.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": n})
		return
	}

	s.responder.Abort(c, errorx.ErrInvalidRequest)
}
