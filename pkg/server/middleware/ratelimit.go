// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the sliding window duration.
	Window time.Duration
}

// DefaultRateLimitConfig returns the stock limit of 120 requests per minute.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxRequests: 120,
		Window:      60 * time.Second,
	}
}

// rateLimiter tracks per-client request timestamps. State is process-local
// and resets on restart.
type rateLimiter struct {
	config  *RateLimitConfig
	clients map[string][]time.Time
	mu      sync.Mutex
	now     func() time.Time
}

func newRateLimiter(config *RateLimitConfig) *rateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &rateLimiter{
		config:  config,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// allow records a request for the client and reports whether it fits the
// window. Timestamps older than the window are trimmed first. Every call
// also sweeps fully-expired buckets of other clients so the map stays
// bounded by the set of recently-active clients.
func (rl *rateLimiter) allow(client string) bool {
	now := rl.now()
	cutoff := now.Add(-rl.config.Window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for other, bucket := range rl.clients {
		if other != client && len(bucket) > 0 && !bucket[len(bucket)-1].After(cutoff) {
			delete(rl.clients, other)
		}
	}

	bucket := rl.clients[client]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.config.MaxRequests {
		rl.clients[client] = kept
		return false
	}

	rl.clients[client] = append(kept, now)
	return true
}

// RateLimitMiddleware creates a Gin middleware enforcing the fixed-window
// per-client limit. Clients are keyed by IP.
func RateLimitMiddleware(config *RateLimitConfig, logger adapters.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = adapters.NewDefaultLogger()
	}

	limiter := newRateLimiter(config)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !limiter.allow(clientIP) {
			logger.Warn(c.Request.Context(), "Rate limit exceeded",
				adapters.Field{Key: "client_ip", Value: clientIP},
				adapters.Field{Key: "path", Value: c.Request.URL.Path},
				adapters.Field{Key: "method", Value: c.Request.Method},
			)

			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"detail": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
