package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// newTestDB opens a private in-memory database. With migrate empty the
// schema is left blank so error paths can be exercised.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps PRAGMAs and the in-memory schema consistent.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// newRepoDB opens an in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

// seedPipeline stores a queued order with one job per kind. The first entry
// is queued, the rest are blocked on their predecessor.
func seedPipeline(t *testing.T, db *gorm.DB, userID string, maxAttempts int, kinds ...string) (*domain.Order, []domain.Job, []domain.QueueEntry) {
	t.Helper()
	now := time.Now().UTC()
	o := &domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		BrandID:   "brand-1",
		Status:    domain.OrderQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	jobs := make([]domain.Job, 0, len(kinds))
	entries := make([]domain.QueueEntry, 0, len(kinds))
	var prevJob, prevEntry *string
	for i, k := range kinds {
		status := domain.JobQueued
		if i > 0 {
			status = domain.JobBlocked
		}
		jobID, entryID := uuid.NewString(), uuid.NewString()
		jobs = append(jobs, domain.Job{
			ID: jobID, OrderID: o.ID, Position: i, Kind: k,
			Status: status, MaxAttempts: maxAttempts, PredecessorID: prevJob,
			CreatedAt: now, UpdatedAt: now,
		})
		entries = append(entries, domain.QueueEntry{
			ID: entryID, Type: domain.QueueTypeStage, Kind: k,
			Status: status, MaxAttempts: maxAttempts, UserID: userID, BrandID: o.BrandID,
			OrderID: strPtr(o.ID), JobID: strPtr(jobID), PredecessorID: prevEntry,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond), UpdatedAt: now,
		})
		prevJob, prevEntry = strPtr(jobID), strPtr(entryID)
	}
	if err := InsertPipeline(context.Background(), db, jobs, entries); err != nil {
		t.Fatalf("InsertPipeline: %v", err)
	}
	return o, jobs, entries
}

func mustEntry(t *testing.T, db *gorm.DB, id string) domain.QueueEntry {
	t.Helper()
	var e domain.QueueEntry
	if err := db.First(&e, "id = ?", id).Error; err != nil {
		t.Fatalf("load entry %s: %v", id, err)
	}
	return e
}

func mustJob(t *testing.T, db *gorm.DB, id string) domain.Job {
	t.Helper()
	var j domain.Job
	if err := db.First(&j, "id = ?", id).Error; err != nil {
		t.Fatalf("load job %s: %v", id, err)
	}
	return j
}
