// Package http serves the ragd core over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
)

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo      *echo.Echo
	core      *services.Core
	logger    *logging.Logger
	config    *Config
	telemetry *telemetry.Telemetry
	version   string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// MaxUploadMB bounds request bodies, uploads included.
	MaxUploadMB int
	// UploadDir receives uploaded files before ingestion.
	UploadDir string
}

// Option customizes a Server.
type Option func(*Server)

// WithTelemetry reports t's health on /health.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = t }
}

// WithVersion reports version on /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new HTTP server.
func NewServer(core *services.Core, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if core == nil {
		return nil, errors.New("core cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 16
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		core:   core,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	e.Use(s.requestLogger)
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	s.registerRoutes()
	return s, nil
}

// requestLogger binds the request id and logger to the request context
// and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		if tenantID := c.Param("tenant"); tenantID != "" {
			ctx = logging.WithTenantID(ctx, tenantID)
		}
		ctx = logging.WithLogger(ctx, s.logger)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	t := s.echo.Group("/api/v1/tenants/:tenant")
	t.POST("", s.handleCreateTenant)
	t.DELETE("", s.handleDeleteTenant)
	t.GET("/stats", s.handleTenantStats)

	t.GET("/documents", s.handleListDocuments)
	t.POST("/documents", s.handleIngest)
	t.POST("/documents/upload", s.handleUpload)
	t.GET("/documents/:document", s.handleDocumentStatus)
	t.DELETE("/documents/:document", s.handleDeleteDocument)

	t.POST("/retrieve", s.handleRetrieve)
	t.POST("/chat", s.handleChat)
	t.POST("/chat/stream", s.handleChatStream)
	t.GET("/conversations", s.handleListConversations)
	t.GET("/conversations/:conversation", s.handleGetConversation)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
