// Package server implements a token bucket rate limiter for per-connection
// throttling of inbound client frames.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket holding up to Burst frames, refilled at
// Burst tokens per RefillInterval. The bucket is kept as accumulated time:
// one token is worth one refill period, so refills never lose precision.
type rateLimiter struct {
	mu       sync.Mutex
	period   time.Duration // time to earn one token
	capacity time.Duration // period * burst
	credit   time.Duration
	last     time.Time
	rejected uint64
	clock    func() time.Time
}

func newRateLimiter(cfg RateLimitConfig, clock func() time.Time) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if clock == nil {
		clock = time.Now
	}

	period := max(cfg.RefillInterval/time.Duration(cfg.Burst), time.Nanosecond)
	capacity := period * time.Duration(cfg.Burst)
	return &rateLimiter{
		period:   period,
		capacity: capacity,
		credit:   capacity,
		last:     clock(),
		clock:    clock,
	}
}

// allow takes one token if available. Rejections are counted.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.credit = min(rl.credit+elapsed, rl.capacity)
	}
	rl.last = now

	if rl.credit < rl.period {
		rl.rejected++
		return false
	}
	rl.credit -= rl.period
	return true
}

// rejectedCount returns how many frames were refused so far.
func (rl *rateLimiter) rejectedCount() uint64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rejected
}
