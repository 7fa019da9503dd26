// Package app builds the service graph shared by the API and worker
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/config"
	"github.com/tbourn/alfie-backend/internal/domain"
	"github.com/tbourn/alfie-backend/internal/promptguard"
	"github.com/tbourn/alfie-backend/internal/providers"
	"github.com/tbourn/alfie-backend/internal/realtime"
	"github.com/tbourn/alfie-backend/internal/repo"
	"github.com/tbourn/alfie-backend/internal/services"
	"github.com/tbourn/alfie-backend/internal/worker"
)

// App holds the wired services. Close releases the database and the bus.
type App struct {
	Config config.Config
	DB     *gorm.DB
	Bus    *realtime.RedisBus // nil when REDIS_ADDR is empty

	Memory  *services.MemoryService
	Quota   *services.QuotaService
	Planner *services.PlannerService
	Batches *services.BatchService
	Queue   *services.QueueService
}

// Build opens the database, migrates it and wires every service. local
// receives events when no Redis bus is configured; pass nil in a process
// with no subscribers.
func Build(ctx context.Context, cfg config.Config, local realtime.Publisher) (*App, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{Config: cfg, DB: db}

	events := local
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		bus, err := realtime.NewRedisBus(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Bus = bus
		events = bus
	}
	if events == nil {
		events = realtime.Nop{}
	}

	guard := promptguard.Default()
	client := providers.NewHTTPClient(cfg.Providers.Timeout)
	fetcher := &providers.HTTPFetcher{HTTP: client}

	a.Memory = &services.MemoryService{DB: db}
	a.Quota = &services.QuotaService{DB: db, Defaults: domain.Cost{
		Woofs:  cfg.Quota.Woofs,
		Images: cfg.Quota.Images,
		Videos: cfg.Quota.Videos,
	}}
	a.Planner = services.NewPlannerService(db, a.Memory, cfg.Worker.MaxAttempts)
	a.Batches = services.NewBatchService(db, guard, fetcher, events, cfg.Worker.MaxAttempts)
	a.Queue = &services.QueueService{
		DB:    db,
		Guard: guard,
		Selector: &providers.SelectorClient{
			URL:    cfg.Providers.SelectorURL,
			APIKey: cfg.Providers.APIKey,
			HTTP:   client,
		},
		Renderer: &providers.RenderClient{
			BaseURL: cfg.Providers.RenderBaseURL,
			APIKey:  cfg.Providers.APIKey,
			HTTP:    client,
		},
		Fetcher:     fetcher,
		Thumbs:      providers.Thumbnailer{Width: cfg.Assets.ThumbWidth},
		Quota:       a.Quota,
		Batches:     a.Batches,
		Events:      events,
		Concurrency: cfg.Worker.BatchSize,
	}

	// A nil *MinioStore in the interface would not compare equal to nil.
	if strings.TrimSpace(cfg.Assets.Endpoint) != "" {
		store, err := providers.NewMinioStore(cfg.Assets)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("asset store: %w", err)
		}
		a.Queue.Store = store
	} else {
		log.Warn().Msg("ASSETS_ENDPOINT not set; provider URLs are stored as-is")
	}

	return a, nil
}

// Worker returns a queue runner configured from WORKER_* settings. Its
// sweeps also purge expired idempotency keys.
func (a *App) Worker() *worker.Runner {
	w := a.Config.Worker
	return worker.New(a.Queue, worker.Options{
		PollInterval:  w.PollInterval,
		SweepInterval: w.SweepInterval,
		BatchSize:     w.BatchSize,
		StuckMinutes:  w.StuckMinutes,
		MaxAgeHours:   w.MaxAgeHours,
		Purge: func(ctx context.Context, now time.Time) (int64, error) {
			return repo.PurgeExpiredIdempotency(ctx, a.DB, now)
		},
	})
}

// Close releases the bus and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
