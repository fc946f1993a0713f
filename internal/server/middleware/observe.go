package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/pkg/utils"
)

// RequestID propagates X-Request-ID or assigns a new one
type RequestID struct{}

func (RequestID) Name() string { return "request_id" }

func (RequestID) Intercept(c *gin.Context) {
	id := utils.SafeTruncate(c.GetHeader(cnst.HeaderRequestID), 128)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(cnst.CtxKeyRequestID, id)
	c.Header(cnst.HeaderRequestID, id)
	c.Next()
}

// AccessLog writes one line per request once the response is known
type AccessLog struct {
	logger *zap.Logger
}

func NewAccessLog(logger *zap.Logger) *AccessLog {
	return &AccessLog{logger: logger.Named("http.access")}
}

func (a *AccessLog) Name() string { return "access_log" }

func (a *AccessLog) Intercept(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("ip", c.ClientIP()),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", c.GetString(cnst.CtxKeyRequestID)),
	}
	switch {
	case status >= http.StatusInternalServerError:
		a.logger.Error("request", fields...)
	case status >= http.StatusBadRequest:
		a.logger.Warn("request", fields...)
	default:
		a.logger.Info("request", fields...)
	}
}

// Recovery turns a panic into a server_error response
type Recovery struct {
	logger    *zap.Logger
	responder *Responder
}

func NewRecovery(logger *zap.Logger, responder *Responder) *Recovery {
	return &Recovery{logger: logger.Named("http.recovery"), responder: responder}
}

func (r *Recovery) Name() string { return "recovery" }

func (r *Recovery) Intercept(c *gin.Context) {
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("panic recovered",
				zap.Any("error", err),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(cnst.CtxKeyRequestID)),
				zap.Stack("stack"))
			r.responder.Abort(c, errorx.ErrServerError)
		}
	}()
	c.Next()
}
