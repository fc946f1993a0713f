package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConstants(t *testing.T) {
	assert.Equal(t, "oauthd", AppName)
	assert.Equal(t, "oauthd", CommandName)
}

func TestRedisClusterTypeConstants(t *testing.T) {
	assert.Equal(t, "sentinel", RedisClusterTypeSentinel)
	assert.Equal(t, "cluster", RedisClusterTypeCluster)
	assert.Equal(t, "single", RedisClusterTypeSingle)
}

func TestHTTPConstants(t *testing.T) {
	assert.Equal(t, "Bearer", TokenTypeBearer)
	assert.Equal(t, "authorization_code", GrantTypeAuthorizationCode)
	assert.Equal(t, "X-RateLimit-Remaining", HeaderRateRemaining)
}
