// Command worker drains the job queue and runs the recovery sweeps. Events
// reach API replicas through Redis; without REDIS_ADDR they are dropped.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/alfie-backend/internal/app"
	"github.com/tbourn/alfie-backend/internal/config"
	"github.com/tbourn/alfie-backend/internal/observability"
	"github.com/tbourn/alfie-backend/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, "worker")

	ctx, stop := sysutil.ShutdownContext()
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Process{Role: "worker", Version: version})
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: startup failed")
	}
	defer a.Close()
	if a.Bus == nil {
		log.Warn().Msg("worker: REDIS_ADDR not set; progress events are not delivered")
	}

	log.Info().
		Dur("poll", cfg.Worker.PollInterval).
		Int("batch", cfg.Worker.BatchSize).
		Str("version", version).
		Msg("worker started")
	if err := a.Worker().Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
}
