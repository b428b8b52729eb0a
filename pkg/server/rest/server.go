// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package rest implements the sichter control API: job submission,
// policy management, event tailing, and the live event stream.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heimgewebe/sichter/pkg/adapters"
	"github.com/heimgewebe/sichter/pkg/eventlog"
	"github.com/heimgewebe/sichter/pkg/paths"
	"github.com/heimgewebe/sichter/pkg/policy"
	"github.com/heimgewebe/sichter/pkg/queue"
	"github.com/heimgewebe/sichter/pkg/server/middleware"
)

// Server represents the control API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the hostname to bind to (default: "127.0.0.1").
	Host string

	// Port is the port to listen on (default: 8799).
	Port int

	// AllowedOrigins is the CORS origin allowlist. "*" is honored only
	// when configured explicitly; the default allows the local dashboard.
	AllowedOrigins []string

	// EnableLogging enables request logging middleware.
	EnableLogging bool

	// RateLimitConfig is the fixed-window limit applied to every route.
	RateLimitConfig *middleware.RateLimitConfig

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Zero, because the event stream writes indefinitely.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration

	// Mode sets the Gin mode: "debug", "release", or "test" (default: "release").
	Mode string

	// Logger is the pluggable logger adapter (default: DefaultLogger).
	Logger adapters.Logger

	// Authenticator gates every route except the probes. Defaults to a
	// key gate with no key, which rejects all traffic.
	Authenticator adapters.Authenticator
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "127.0.0.1",
		Port:            8799,
		AllowedOrigins:  []string{"http://localhost:3000"},
		EnableLogging:   true,
		RateLimitConfig: middleware.DefaultRateLimitConfig(),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		Mode:            gin.ReleaseMode,
		Logger:          adapters.NewDefaultLogger(),
		Authenticator:   adapters.NewKeyAuthenticator(""),
	}
}

// NewServer creates a control API server over the given state tree.
func NewServer(tree *paths.Tree, config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = adapters.NewDefaultLogger()
	}
	if config.Authenticator == nil {
		config.Authenticator = adapters.NewKeyAuthenticator("")
	}

	gin.SetMode(config.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ErrorHandlingMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(config.AllowedOrigins))
	if config.EnableLogging {
		router.Use(LoggingMiddleware(config.Logger))
	}

	events := eventlog.NewWriter(tree.Events())
	handler := NewHandler(tree,
		policy.NewStore(tree.PolicyFile(), events, config.Logger),
		events,
		queue.New(tree.Queue(), events),
		config.Logger)

	rateLimit := middleware.RateLimitMiddleware(config.RateLimitConfig, config.Logger)
	SetupRoutes(router, handler, config.Authenticator, rateLimit, config.Logger)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		router:     router,
		httpServer: httpServer,
		handler:    handler,
		config:     config,
	}, nil
}

// Start starts the control API server.
func (s *Server) Start() error {
	s.config.Logger.Info(context.TODO(), "Starting control API server",
		adapters.Field{Key: "address", Value: s.httpServer.Addr},
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down control API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router (useful for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}
