// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	rl := newRateLimiter(&RateLimitConfig{MaxRequests: 3, Window: time.Minute})

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	rl := newRateLimiter(&RateLimitConfig{MaxRequests: 1, Window: time.Minute})

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	rl := newRateLimiter(&RateLimitConfig{MaxRequests: 2, Window: time.Minute})
	current := time.Date(2025, 8, 24, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	// Half the window later the old stamps still count.
	current = current.Add(30 * time.Second)
	assert.False(t, rl.allow("10.0.0.1"))

	// Past the window the bucket drains.
	current = current.Add(31 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := newRateLimiter(&RateLimitConfig{MaxRequests: 1, Window: time.Minute})
	current := time.Date(2025, 8, 24, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.Len(t, rl.clients, 1)

	// The first client's bucket is fully expired by the time another
	// client shows up, so it gets swept.
	current = current.Add(2 * time.Minute)
	assert.True(t, rl.allow("10.0.0.2"))
	assert.Len(t, rl.clients, 1)
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(&RateLimitConfig{MaxRequests: 2, Window: time.Minute}, adapters.NewNoOpLogger()))
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	status := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:4711"
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusOK, status())
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:4711"
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), "rate limit exceeded")
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	// Generated when absent.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	// Propagated when present.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-chosen")
	router.ServeHTTP(w, req)
	assert.Equal(t, "client-chosen", w.Header().Get(RequestIDHeader))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
