package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/amoylab/oauthd/internal/auth/cleanup"
)

// CleanupSampler occasionally starts a background sweep. The request
// itself never waits for it.
type CleanupSampler struct {
	sampler *cleanup.Sampler
}

func NewCleanupSampler(sampler *cleanup.Sampler) *CleanupSampler {
	return &CleanupSampler{sampler: sampler}
}

func (CleanupSampler) Name() string { return "cleanup_sampler" }

func (s *CleanupSampler) Intercept(c *gin.Context) {
	s.sampler.Maybe(c.Request.Context())
	c.Next()
}
