package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/store"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
)

// Run builds the full pipeline from configuration and serves the HTTP API
func Run(cfg *config.Config) error {
	e := newEcho()

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	researcher, err := research.New(cfg, nil, tele)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	// Persistence is optional; the API degrades to in-memory tracking
	var reports *store.Store
	if cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
		reports, err = store.NewStore(cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("opening report store: %w", err)
		}
	}
	var status *store.StatusCache
	if cfg.Storage.Redis.Host != "" {
		status, err = store.NewStatusCache(context.Background(), cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("opening status cache: %w", err)
		}
	}

	h := NewRunsHandler(researcher, reports, status, nil)
	h.Register(e.Group("/api"))

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	return e.Start(addr)
}

// newEcho builds the shared HTTP shell: JSON errors, panic recovery, CORS,
// health and metrics endpoints.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
