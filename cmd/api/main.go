// Command api serves the REST and SSE surface.
//
//	@title			Alfie Designer API
//	@version		1.0
//	@description	Plans content orders into job pipelines, runs them through a durable queue, manages video batches and brand quotas.
//	@BasePath		/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/alfie-backend/internal/app"
	"github.com/tbourn/alfie-backend/internal/config"
	httpapi "github.com/tbourn/alfie-backend/internal/http"
	"github.com/tbourn/alfie-backend/internal/http/handlers"
	"github.com/tbourn/alfie-backend/internal/observability"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, "api")
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	ctx, stop := sysutil.ShutdownContext()
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Process{Role: "api", Version: version})
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	hub := realtime.NewHub()
	a, err := app.Build(ctx, cfg, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// With Redis, every replica's hub is fed from the bus, including events
	// this process published.
	if a.Bus != nil {
		if err := a.Bus.Forward(ctx, hub.Broadcast); err != nil {
			log.Fatal().Err(err).Msg("event bus subscribe failed")
		}
	}

	if cfg.Worker.Embedded {
		go func() {
			if err := a.Worker().Run(ctx); err != nil {
				log.Error().Err(err).Msg("embedded worker stopped")
			}
		}()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := handlers.New(handlers.Deps{
		Planner:      a.Planner,
		Queue:        a.Queue,
		Batches:      a.Batches,
		Quota:        a.Quota,
		Memory:       a.Memory,
		Hub:          hub,
		Idempotency:  handlers.RepoIdempotency{DB: a.DB, TTL: cfg.IdempotencyTTL},
		TriggerLimit: cfg.Worker.BatchSize,
		StuckMinutes: cfg.Worker.StuckMinutes,
		MaxAgeHours:  cfg.Worker.MaxAgeHours,
	})
	httpapi.RegisterRoutes(r, cfg, h)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
}
