package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/internal/i18n"
)

// Responder writes OAuth error bodies with localized descriptions
type Responder struct {
	logger *zap.Logger
	i18n   *i18n.I18n
}

// NewResponder creates a responder. tr may be nil to skip translation.
func NewResponder(logger *zap.Logger, tr *i18n.I18n) *Responder {
	return &Responder{logger: logger.Named("http.error"), i18n: tr}
}

// Lang returns the negotiated language of the request
func (r *Responder) Lang(c *gin.Context) string {
	if v := c.GetString(cnst.CtxKeyLang); v != "" {
		return v
	}
	if r.i18n == nil {
		return ""
	}
	lang := r.i18n.Lang(c.Request)
	c.Set(cnst.CtxKeyLang, lang)
	return lang
}

// Describe maps err to an OAuth error with a localized description. Errors
// that are not OAuth errors are logged and reported as server_error.
func (r *Responder) Describe(c *gin.Context, err error, data map[string]any) *errorx.OAuth2Error {
	oe := errorx.ConvertToOAuth2Error(err)
	if oe.ErrorType == errorx.ErrServerError.ErrorType {
		r.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(cnst.CtxKeyRequestID)))
	}
	if r.i18n == nil {
		return oe
	}
	return r.i18n.Describe(oe, r.Lang(c), data)
}

// Abort writes the error body and stops the chain
func (r *Responder) Abort(c *gin.Context, err error) {
	r.AbortWithData(c, err, nil)
}

// AbortWithData is Abort with template data for the description
func (r *Responder) AbortWithData(c *gin.Context, err error, data map[string]any) {
	oe := r.Describe(c, err, data)
	c.AbortWithStatusJSON(oe.HTTPStatus, oe)
}
