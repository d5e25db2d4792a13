package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Second}, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow(), "bucket should be empty")

	now = now.Add(time.Second / 3)
	assert.True(t, rl.allow(), "one token refilled")
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow())
	}
	assert.False(t, rl.allow(), "refill is capped at the burst size")
	assert.Equal(t, uint64(3), rl.rejectedCount())
}

// TestRateLimiterSteadyRate sends exactly at the configured rate from an
// empty bucket. No frame may be refused even though 1s/3 is not a whole
// number of nanoseconds.
func TestRateLimiterSteadyRate(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: time.Second}, func() time.Time { return now })
	for i := 0; i < 3; i++ {
		rl.allow()
	}

	for i := 0; i < 30; i++ {
		now = now.Add(time.Second / 3)
		assert.True(t, rl.allow(), "frame %d at the configured rate", i)
	}
	assert.Zero(t, rl.rejectedCount())
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{}, nil)
	assert.Equal(t, time.Second, rl.period)
	assert.Equal(t, time.Second, rl.capacity)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
