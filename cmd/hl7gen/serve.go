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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/hl7gen/internal/batch"
	"github.com/ehr/hl7gen/internal/config"
	"github.com/ehr/hl7gen/internal/platform/auth"
	"github.com/ehr/hl7gen/internal/platform/db"
	"github.com/ehr/hl7gen/internal/platform/hl7v2"
	"github.com/ehr/hl7gen/internal/platform/middleware"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP encoding API",
		RunE: func(cmd *cobra.Command, args []string) error {
			bodyLimit, _ := cmd.Flags().GetString("body-limit")
			return runServer(cmd, bodyLimit)
		},
	}
	cmd.Flags().String("body-limit", "4M", "maximum request body size")
	return cmd
}

func runServer(cmd *cobra.Command, bodyLimit string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	enc, pool, err := newEncoder(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load mapping")
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	runner := batch.NewRunner(enc, batch.Config{Workers: cfg.BatchWorkers}, logger)
	opts := serverOptionsFrom(cfg, bodyLimit)
	if opts.Auth == nil {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set: API requests are not authenticated")
	}
	e := newServer(enc, runner, pool, logger, opts)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("mapping_source", cfg.MappingSource).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// serverOptions carries the HTTP settings newServer applies. A nil Auth
// leaves /api/v1 open to development requests.
type serverOptions struct {
	BodyLimit string
	Timeout   time.Duration
	RateLimit middleware.RateLimitConfig
	Auth      *auth.JWTConfig
}

func serverOptionsFrom(cfg *config.Config, bodyLimit string) serverOptions {
	opts := serverOptions{
		BodyLimit: bodyLimit,
		Timeout:   cfg.RequestTimeout,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
	}
	if cfg.AuthSigningKey != "" {
		opts.Auth = &auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}
	}
	return opts
}

// newServer wires middleware and routes. pool may be nil when the mapping
// comes from a CSV file.
func newServer(enc *hl7v2.Encoder, runner *batch.Runner, pool *pgxpool.Pool, logger zerolog.Logger, opts serverOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(opts.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(opts.RateLimit))
	if opts.Auth != nil {
		apiV1.Use(auth.JWTMiddleware(*opts.Auth))
	} else {
		apiV1.Use(auth.DevAuthMiddleware())
	}
	apiV1.Use(middleware.RequestTimeout(opts.Timeout))
	hl7v2.NewHandler(enc, runner).RegisterRoutes(apiV1)

	return e
}
