package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tbourn/alfie-backend/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DB:        config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")},
		Providers: config.ProviderConfig{SelectorURL: "http://127.0.0.1:1/select", RenderBaseURL: "http://127.0.0.1:1/render", Timeout: time.Second},
		Worker:    config.WorkerConfig{BatchSize: 3, MaxAttempts: 2},
		Quota:     config.QuotaConfig{Woofs: 10, Images: 5, Videos: 1},
		Assets:    config.AssetsConfig{ThumbWidth: 200},
	}
}

func TestBuild_WiresServicesWithoutOptionalBackends(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	if a.Bus != nil {
		t.Fatalf("no redis configured, bus should be nil")
	}
	if a.Queue.Store != nil {
		t.Fatalf("no assets endpoint, store should be nil")
	}
	if a.Queue.Quota != a.Quota || a.Queue.Batches != a.Batches {
		t.Fatalf("queue not wired to shared services")
	}
	if a.Planner.MaxAttempts != 2 || a.Queue.Concurrency != 3 {
		t.Fatalf("worker settings not applied: attempts=%d concurrency=%d", a.Planner.MaxAttempts, a.Queue.Concurrency)
	}
	if a.Quota.Defaults.Videos != 1 {
		t.Fatalf("quota defaults not applied: %+v", a.Quota.Defaults)
	}

	// Migrated schema is usable.
	st, err := a.Queue.Stats(context.Background(), "u1")
	if err != nil || st.Total != 0 {
		t.Fatalf("stats on fresh db: %+v %v", st, err)
	}
}

func TestBuild_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.Driver = "oracle"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected unsupported driver error")
	}

	cfg = testConfig(t)
	cfg.Assets = config.AssetsConfig{Endpoint: "localhost:9000"} // no bucket
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected asset store error")
	}
}
