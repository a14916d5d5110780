// Package server exposes research sessions over an OpenAI-compatible chat
// completions API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
)

// Researcher runs one session to completion.
type Researcher interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// Archive persists finished sessions.
type Archive interface {
	SaveSession(ctx context.Context, res orchestrator.Result) error
}

// Publisher announces finished sessions.
type Publisher interface {
	SessionCompleted(ctx context.Context, res orchestrator.Result) (string, error)
}

// Deps are the collaborators of the HTTP layer. Archive and Publisher are
// optional.
type Deps struct {
	Researcher Researcher
	Archive    Archive
	Publisher  Publisher
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *zap.Logger
	echo   *echo.Echo
	now    func() time.Time
}

// New builds the echo instance and mounts every route.
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Researcher == nil {
		return nil, fmt.Errorf("server: researcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamChunkRunes <= 0 {
		cfg.StreamChunkRunes = 20
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "deepresearch-v1"
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger, echo: echo.New(), now: time.Now}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(s.accessLog)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	if cfg.AuthEnabled() {
		v1.Use(bearerAuth(cfg))
	}
	v1.GET("/models", s.listModels)
	v1.POST("/chat/completions", s.chatCompletions)
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// handleError renders every error as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Warn("request failed",
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err))
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		httpRequests.WithLabelValues(c.Path(), fmt.Sprint(status)).Inc()
		httpLatency.WithLabelValues(c.Path()).Observe(time.Since(start).Seconds())
		return err
	}
}

func (s *Server) listModels(c echo.Context) error {
	return c.JSON(http.StatusOK, modelList{
		Object: "list",
		Data: []modelInfo{{
			ID:      s.cfg.ModelName,
			Object:  "model",
			Created: s.now().Unix(),
			OwnedBy: "deepresearch",
		}},
	})
}
