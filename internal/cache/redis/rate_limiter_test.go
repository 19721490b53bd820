package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The limiter is only correct if the embedded script prunes expired entries,
// counts, and conditionally records the request in one atomic round trip.
func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.NotEmpty(t, slidingWindowLua)
	for _, cmd := range []string{"ZREMRANGEBYSCORE", "ZCARD", "ZADD", "PEXPIRE"} {
		assert.Contains(t, slidingWindowLua, cmd)
	}
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
}
