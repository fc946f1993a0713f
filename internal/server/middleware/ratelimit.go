package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/errorx"
	"github.com/amoylab/oauthd/internal/ratelimit"
	"github.com/amoylab/oauthd/pkg/metrics"
)

// KeyFunc picks the rate-limit key of a request
type KeyFunc func(c *gin.Context) string

// ClientIP keys requests by caller address
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit throttles one endpoint bucket
type RateLimit struct {
	logger    *zap.Logger
	limiter   *ratelimit.Limiter
	bucket    string
	policy    ratelimit.Policy
	key       KeyFunc
	responder *Responder
	metrics   *metrics.Metrics
}

func NewRateLimit(logger *zap.Logger, limiter *ratelimit.Limiter, bucket string, policy ratelimit.Policy,
	responder *Responder, m *metrics.Metrics) *RateLimit {
	return &RateLimit{
		logger:    logger.Named("http.ratelimit"),
		limiter:   limiter,
		bucket:    bucket,
		policy:    policy,
		key:       ClientIP,
		responder: responder,
		metrics:   m,
	}
}

// WithKey replaces the default client IP key
func (r *RateLimit) WithKey(fn KeyFunc) *RateLimit {
	r.key = fn
	return r
}

func (r *RateLimit) Name() string { return "rate_limit:" + r.bucket }

func (r *RateLimit) Intercept(c *gin.Context) {
	res, err := r.limiter.Check(c.Request.Context(), r.bucket, r.key(c), r.policy)
	if err != nil {
		// an unreachable counter store must not take the service down
		r.logger.Error("rate limit check failed, letting request through",
			zap.String("bucket", r.bucket), zap.Error(err))
		c.Next()
		return
	}

	for k, v := range res.Headers() {
		c.Header(k, v)
	}
	if !res.Allowed {
		retry := res.RetryAfter(r.limiter.Now())
		c.Header(cnst.HeaderRetryAfter, strconv.Itoa(retry))
		r.metrics.RateLimited(r.bucket)
		r.responder.AbortWithData(c, errorx.ErrRateLimitExceeded, map[string]any{"RetryAfter": retry})
		return
	}
	c.Next()
}
