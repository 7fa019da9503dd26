package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/alfie-backend/internal/domain"
)

func idemRecord(id, key, resource string, created time.Time, ttl time.Duration) *domain.Idempotency {
	return &domain.Idempotency{
		ID: id, UserID: "u1", Scope: "plan", Key: key, ResourceID: resource,
		Status: 201, CreatedAt: created, ExpiresAt: created.Add(ttl),
	}
}

func TestGetIdempotency_OnlyLiveRecords(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	db.Create(idemRecord("i1", "stale", "o-old", now.Add(-2*time.Hour), time.Hour))
	db.Create(idemRecord("i2", "live", "o-new", now, time.Hour))

	for _, tc := range []struct{ scope, key string }{{"   ", "live"}, {"plan", ""}, {"plan", "stale"}, {"plan", "missing"}, {"batches", "live"}} {
		if rec, err := GetIdempotency(ctx, db, "u1", tc.scope, tc.key, now); rec != nil || !errors.Is(err, ErrNotFound) {
			t.Fatalf("%+v: want ErrNotFound, got %v %v", tc, rec, err)
		}
	}
	rec, err := GetIdempotency(ctx, db, "u1", "plan", "live", now)
	if err != nil || rec.ResourceID != "o-new" {
		t.Fatalf("live record: %v %+v", err, rec)
	}
	if _, err := GetIdempotency(ctx, db, "u2", "plan", "live", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("keys are per user: %v", err)
	}
}

func TestSaveIdempotency_FirstWriterWins(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := SaveIdempotency(ctx, db, idemRecord("a", "k1", "order-1", now, time.Hour)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := SaveIdempotency(ctx, db, idemRecord("b", "k1", "order-2", now.Add(time.Minute), time.Hour)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second save: want ErrDuplicate, got %v", err)
	}
	rec, _ := GetIdempotency(ctx, db, "u1", "plan", "k1", now)
	if rec == nil || rec.ResourceID != "order-1" {
		t.Fatalf("first writer lost: %+v", rec)
	}

	other := idemRecord("c", "k1", "batch-1", now, time.Hour)
	other.Scope = "batches"
	if err := SaveIdempotency(ctx, db, other); err != nil {
		t.Fatalf("other scope should not collide: %v", err)
	}
}

func TestSaveIdempotency_TakesOverExpiredKey(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	db.Create(idemRecord("old", "k1", "order-1", now.Add(-48*time.Hour), 24*time.Hour))
	if err := SaveIdempotency(ctx, db, idemRecord("new", "k1", "order-2", now, time.Hour)); err != nil {
		t.Fatalf("save over expired: %v", err)
	}
	rec, err := GetIdempotency(ctx, db, "u1", "plan", "k1", now)
	if err != nil || rec.ResourceID != "order-2" || rec.ID != "old" {
		t.Fatalf("expired row not reused: %v %+v", err, rec)
	}
	var n int64
	db.Model(&domain.Idempotency{}).Count(&n)
	if n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestSaveIdempotency_Errors(t *testing.T) {
	ctx := context.Background()
	if err := SaveIdempotency(ctx, newTestDB(t, &domain.Idempotency{}), &domain.Idempotency{Key: "k"}); err == nil {
		t.Fatalf("incomplete record accepted")
	}
	err := SaveIdempotency(ctx, newTestDB(t), idemRecord("x", "k", "o", time.Now().UTC(), time.Hour))
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("missing table: %v", err)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()
	db.Create(idemRecord("old", "a", "x", now.Add(-2*time.Minute), time.Minute))
	db.Create(idemRecord("new", "b", "y", now, time.Hour))

	n, err := PurgeExpiredIdempotency(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, err %v", n, err)
	}
}
