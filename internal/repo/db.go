// Package repo is the GORM persistence layer: orders, the job queue, video
// batches, quota ledgers, generation memory and idempotency records. Every
// function takes the *gorm.DB it should run on so callers can pass a
// transaction handle.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/alfie-backend/internal/config"
	"github.com/tbourn/alfie-backend/internal/domain"
)

// pool sizes database/sql for one driver.
type pool struct {
	maxOpen, maxIdle int
	idle, lifetime   time.Duration
}

// SQLite takes one writer at a time; the worker and the API share a handful
// of connections so lock waits stay inside busy_timeout.
var (
	sqlitePool   = pool{maxOpen: 4, maxIdle: 4, idle: 5 * time.Minute, lifetime: 30 * time.Minute}
	postgresPool = pool{maxOpen: 20, maxIdle: 10, idle: 5 * time.Minute, lifetime: 30 * time.Minute}
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// Open connects with the configured driver, sizes the pool and installs
// query tracing and logging.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newGormLogger(200 * time.Millisecond)}

	var (
		db  *gorm.DB
		err error
		p   pool
	)
	switch cfg.Driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.URL), gcfg)
		p = postgresPool
	case "sqlite", "":
		db, err = openSQLite(cfg.Path, gcfg)
		p = sqlitePool
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxIdleTime(p.idle)
	sqlDB.SetConnMaxLifetime(p.lifetime)

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gorm tracing: %w", err)
	}
	return db, nil
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	// The driver reports a missing directory as "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// AutoMigrate creates or updates every table used by the API and the worker.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Order{},
		&domain.Job{},
		&domain.QueueEntry{},
		&domain.VideoBatch{},
		&domain.BatchVideo{},
		&domain.BatchClip{},
		&domain.GenerationRecord{},
		&domain.QuotaLedger{},
		&domain.QuotaTransaction{},
		&domain.MemoryEntry{},
		&domain.Idempotency{},
	)
}

// isPostgres reports whether row locking clauses are supported.
func isPostgres(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "postgres"
}
