package webserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a sliding window per caller.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	rate     int
	window   time.Duration
	lastGC   time.Time
	now      func() time.Time
}

func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it fits the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastGC) >= rl.window {
		rl.cleanup(now)
		rl.lastGC = now
	}

	valid := prune(rl.requests[key], now, rl.window)
	if len(valid) >= rl.rate {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

func (rl *RateLimiter) cleanup(now time.Time) {
	for key, times := range rl.requests {
		if valid := prune(times, now, rl.window); len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

func prune(times []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= window {
		i++
	}
	return times[i:]
}

func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ctxUserID)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"err": fmt.Sprintf("rate limit exceeded: %d requests per %v", limiter.rate, limiter.window),
			})
			return
		}
		c.Next()
	}
}
