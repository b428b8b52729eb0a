// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/adapters"
)

// SetupRoutes configures all routes of the control API. Probes stay
// unauthenticated and unthrottled so liveness checks keep answering;
// everything else sits behind the rate limit and the API key gate.
func SetupRoutes(router *gin.Engine, handler *Handler, authenticator adapters.Authenticator, rateLimit gin.HandlerFunc, logger adapters.Logger) {
	router.GET("/healthz", handler.HealthCheck)
	router.GET("/readyz", handler.Ready)

	gated := router.Group("")
	if rateLimit != nil {
		gated.Use(rateLimit)
	}
	gated.Use(AuthenticationMiddleware(authenticator, logger))
	{
		gated.POST("/enqueue", handler.Enqueue)
		gated.POST("/sweep", handler.Sweep)
		gated.GET("/events/tail", handler.TailEvents)
		gated.GET("/events/stream", handler.StreamEvents)
		gated.GET("/policy", handler.GetPolicy)
		gated.PUT("/policy", handler.PutPolicy)
		gated.GET("/logs/latest", handler.LatestLog)
	}
}
