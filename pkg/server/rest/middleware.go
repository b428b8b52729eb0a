// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// CORSMiddleware handles Cross-Origin Resource Sharing against a
// configured origin allowlist. A lone "*" entry opens the API to every
// origin; that is never the default.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			} else if ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, "+adapters.APIKeyHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs incoming requests and their response times.
func LoggingMiddleware(logger adapters.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		fields := []adapters.Field{
			{Key: "method", Value: c.Request.Method},
			{Key: "path", Value: c.Request.URL.Path},
			{Key: "status", Value: statusCode},
			{Key: "latency", Value: latency.String()},
			{Key: "client_ip", Value: c.ClientIP()},
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP request completed", fields...)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP request completed", fields...)
		default:
			logger.Info(c.Request.Context(), "HTTP request completed", fields...)
		}
	}
}

// ErrorHandlingMiddleware catches panics and returns proper error responses.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "Panic recovered",
					slog.Any("panic", err))
				RespondWithError(c, http.StatusInternalServerError, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}

// AuthenticationMiddleware gates requests through the API key check. All
// failure kinds answer 403; the kind stays in the logs.
func AuthenticationMiddleware(authenticator adapters.Authenticator, logger adapters.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := authenticator.AuthenticateHTTP(c.Request.Context(), c.Request)
		if err == nil {
			c.Next()
			return
		}

		message := "Invalid API Key"
		fields := []adapters.Field{
			{Key: "path", Value: c.Request.URL.Path},
			{Key: "method", Value: c.Request.Method},
			{Key: "client_ip", Value: c.ClientIP()},
		}
		if authErr, ok := adapters.AsAuthError(err); ok {
			message = authErr.Message
			fields = append(fields, adapters.Field{Key: "kind", Value: string(authErr.Kind)})
		}

		logger.Warn(c.Request.Context(), "Authentication failed", fields...)
		RespondWithError(c, http.StatusForbidden, message)
		c.Abort()
	}
}
