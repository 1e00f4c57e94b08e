package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options.
type Config struct {
	MasterKey string // Optional: master key for bearer authentication on /v1
}

// New creates the HTTP server and registers all routes.
func New(handler *Handler, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(TraceMiddleware())
	e.Use(MetricsMiddleware(handler.metrics))

	// Public routes, no authentication.
	e.GET("/health", handler.Health)
	e.GET("/metrics", handler.Metrics)
	e.POST("/metrics/reset", handler.ResetMetrics)
	e.GET("/metrics/prometheus", echo.WrapHandler(promhttp.Handler()))

	// API routes with body size limit and optional master key auth.
	api := e.Group("/v1")
	api.Use(middleware.BodyLimit("10M"))
	if cfg != nil && cfg.MasterKey != "" {
		api.Use(AuthMiddleware(cfg.MasterKey))
	}

	api.GET("/models", handler.ListModels)
	api.POST("/chat/completions", handler.ChatCompletion)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can be driven by
// httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
