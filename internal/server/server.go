package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/store"
	"github.com/mohammad-safakhou/delver/internal/telemetry"
)

// ResearchEngine runs one research question to completion.
type ResearchEngine interface {
	Run(ctx context.Context, userQuery string) (research.RunResult, error)
}

// Server is the HTTP API: research runs, saved topics, auth, health and
// metrics endpoints.
type Server struct {
	cfg    config.ServerConfig
	engine ResearchEngine
	store  store.RunStore
	tel    *telemetry.Telemetry
	logger *log.Logger
	echo   *echo.Echo
}

// New assembles the echo server and its routes. tel may be nil; /metrics
// then serves the default Prometheus registry.
func New(cfg config.ServerConfig, eng ResearchEngine, st store.RunStore, tel *telemetry.Telemetry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	s := &Server{cfg: cfg, engine: eng, store: st, tel: tel, logger: logger, echo: e}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.echo.GET("/metrics", echo.WrapHandler(s.tel.Handler()))

	api := s.echo.Group("/api")

	var guard []echo.MiddlewareFunc
	if s.cfg.AuthEnabled {
		auth := &AuthHandler{Users: s.cfg.Users, Secret: []byte(s.cfg.JWTSecret)}
		auth.Register(api.Group("/auth"))
		secret := auth.Secret
		guard = append(guard, func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	}

	rh := &ResearchHandler{Engine: s.engine, Store: s.store, Logger: s.logger}
	rh.Register(api.Group("/research"), guard...)

	th := &TopicsHandler{Store: s.store}
	th.Register(api.Group("/topics"), guard...)
}

// Start blocks serving on the configured address.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.cfg.Address)
	return s.echo.Start(s.cfg.Address)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
