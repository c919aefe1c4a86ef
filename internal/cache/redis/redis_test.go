package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "ch:run:abc", RunChannel("abc"))
	assert.Equal(t, "stream:run:abc", RunStream("abc"))
	assert.Equal(t, "bars:file|BTCUSDT", barKey("file|BTCUSDT"))
	assert.Equal(t, "lock:run:f00", lockKey("run:f00"))
	assert.Equal(t, "ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "return {1, count + 1}")
}
