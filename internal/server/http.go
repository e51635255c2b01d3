package server

import (
	"context"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cakisi/internal/ratelimit"
	"cakisi/internal/tools"
)

// DefaultBodySizeLimit applies when Config.BodySizeLimit is empty.
const DefaultBodySizeLimit = "50M"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string // Echo size syntax, e.g. "50M"
	AdminKey        string // Optional bearer token for /admin routes
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps)

	// Global middleware stack (order matters)
	e.Use(middleware.Recover())
	e.Use(RequestID())
	e.Use(RequestLogger())
	e.Use(Metrics())

	bodySizeLimit := cfg.BodySizeLimit
	if bodySizeLimit == "" {
		bodySizeLimit = DefaultBodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	// Public routes
	e.GET("/health", handler.Health)
	e.GET("/ready", handler.Ready)
	if cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Rate-limited routes
	var limited []echo.MiddlewareFunc
	if handler.deps.Limiter != nil {
		limited = append(limited, ratelimit.Middleware(handler.deps.Limiter))
	}

	t := e.Group("/tools", limited...)
	t.GET("", handler.ListTools)
	t.POST("/"+tools.SlugBase64+"/convert", handler.Base64Convert)
	t.POST("/"+tools.SlugBase64+"/decode-file", handler.Base64DecodeFile)
	t.POST("/"+tools.SlugURLEncoder+"/convert", handler.URLConvert)
	t.POST("/"+tools.SlugJSONFormatter+"/format", handler.JSONFormat)
	t.GET("/"+tools.SlugHashGenerator+"/", handler.HashPage)
	t.POST("/"+tools.SlugHashGenerator+"/text", handler.HashText)
	t.POST("/"+tools.SlugHashGenerator+"/file", handler.HashFile)
	t.POST("/"+tools.SlugHashGenerator+"/compare", handler.HashCompare)

	p := e.Group("/pipeline", limited...)
	p.GET("/:id", handler.PipelineInfo)
	p.GET("/:id/download", handler.PipelineDownload)

	// Admin routes
	if deps.Admin != nil {
		deps.Admin.Register(e.Group("/admin", AuthMiddleware(cfg.AdminKey)))
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
