package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coviddash/dashboard/internal/config"
	"github.com/coviddash/dashboard/internal/domain/dashboard"
	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/analytics"
	"github.com/coviddash/dashboard/internal/platform/auth"
	"github.com/coviddash/dashboard/internal/platform/db"
	"github.com/coviddash/dashboard/internal/platform/middleware"
	"github.com/coviddash/dashboard/internal/platform/openapi"
	"github.com/coviddash/dashboard/internal/platform/reporting"
	"github.com/coviddash/dashboard/internal/platform/telemetry"
	"github.com/coviddash/dashboard/internal/platform/websocket"
)

const version = "0.1.0"

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().String("data", "", "CSV file to serve (overrides DATA_FILE and DATA_SOURCE)")
	return cmd
}

func runServer(cfg *config.Config) error {
	logger := newLogger(os.Stdout, cfg.IsDev())

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = openPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	table, err := loadTable(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load patient data")
	}

	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		logger.Warn().Msg("development auth is active: unauthenticated requests get the admin role")
	}

	e := newServer(cfg, newServices(cfg, table, pool, logger), logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// services are the long-lived collaborators behind the HTTP API.
type services struct {
	dashboard *dashboard.Service
	tracker   *analytics.UsageTracker
	metrics   *telemetry.Provider
	hub       *websocket.Hub
	pool      *pgxpool.Pool
}

func newServices(cfg *config.Config, table *patient.Table, pool *pgxpool.Pool, logger zerolog.Logger) *services {
	s := &services{
		tracker: analytics.NewUsageTracker(0),
		metrics: telemetry.NewProvider(telemetry.Config{
			ServiceVersion: version,
			Environment:    cfg.Env,
		}),
		hub:  websocket.NewHub(logger),
		pool: pool,
	}
	s.dashboard = dashboard.NewService(table, logger, s.tracker)
	s.dashboard.SetMetrics(s.metrics)
	s.dashboard.SetPublisher(s.hub)
	return s
}

// newServer wires middleware and routes. When s.pool is nil /health/db is
// not registered.
func newServer(cfg *config.Config, s *services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders("/api/docs"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version,
			"records": s.dashboard.Table().Len(),
		})
	})
	if s.pool != nil {
		e.GET("/health/db", db.HealthHandler(s.pool))
	}
	e.GET("/metrics", s.metrics.PrometheusHandler(), auth.RequireRole("admin"))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.RequestTimeout,
		Skipper: middleware.SkipPaths("/api/v1/dashboard/export"),
	}))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	dashHandler := dashboard.NewHandler(s.dashboard)
	dashHandler.RegisterRoutes(apiV1)

	admin := auth.RequireRole("admin")
	usage := analytics.NewUsageHandler(s.tracker)
	usage.RegisterRoutes(apiV1, admin)
	websocket.NewHandler(s.hub, cfg.CORSOrigins).RegisterRoutes(e.Group("/api/v1"), admin)

	docs := openapi.NewGenerator("COVID-19 Dashboard API", version, "/")
	docs.Add(dashHandler.Operations("/api/v1")...)
	docs.Add(usage.Operations("/api/v1", "admin")...)
	if s.pool != nil {
		reports := reporting.NewHandler(s.pool, cfg.DatasetName)
		reports.RegisterRoutes(apiV1)
		docs.Add(reports.Operations("/api/v1")...)
	}
	docs.Add(platformOperations(s.pool != nil)...)
	docs.RegisterRoutes(e.Group("/api"))

	return e
}

func platformOperations(withDB bool) []openapi.Operation {
	ops := []openapi.Operation{
		{Method: http.MethodGet, Path: "/health", OperationID: "getHealth",
			Summary: "Liveness and loaded record count", Tag: "platform",
			Responses: map[int]string{200: "OK"}},
		{Method: http.MethodGet, Path: "/metrics", OperationID: "getMetrics",
			Summary: "Prometheus text exposition", Tag: "platform", Role: "admin", Produces: "text/plain",
			Responses: map[int]string{200: "OK", 401: "Unauthorized", 403: "Forbidden"}},
		{Method: http.MethodGet, Path: "/api/v1/analytics/stream", OperationID: "streamRecomputes",
			Summary: "Websocket stream of recompute events", Tag: "analytics", Role: "admin",
			Params: []openapi.Param{{Name: "topic", Type: "string", Repeatable: true,
				Description: "defaults to " + websocket.TopicRecompute}},
			Responses: map[int]string{101: "Switching Protocols", 401: "Unauthorized", 403: "Forbidden"}},
	}
	if withDB {
		ops = append(ops, openapi.Operation{Method: http.MethodGet, Path: "/health/db", OperationID: "getDBHealth",
			Summary: "Database connectivity and pool statistics", Tag: "platform",
			Responses: map[int]string{200: "OK", 503: "Service Unavailable"}})
	}
	return ops
}
