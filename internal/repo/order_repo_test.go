package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tbourn/alfie-backend/internal/domain"
)

func TestCreateOrder_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, err := CreateOrder(context.Background(), db, "u1", "b1", nil); err == nil {
		t.Fatalf("expected error without orders table")
	}
}

func TestCreateOrder_GetOrder_ScopedToOwner(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	o, err := CreateOrder(ctx, db, "u1", "b1", datatypes.JSON(`{"kind":"image"}`))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != domain.OrderDraft || o.ID == "" {
		t.Fatalf("unexpected order: %+v", o)
	}

	got, err := GetOrder(ctx, db, o.ID, "u1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if string(got.IntentJSON) != `{"kind":"image"}` {
		t.Fatalf("intent snapshot mismatch: %s", got.IntentJSON)
	}
	if _, err := GetOrder(ctx, db, o.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestSetOrderStatus_ConflictWhenNotInFrom(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o, _ := CreateOrder(ctx, db, "u1", "b1", nil)

	if err := SetOrderStatus(ctx, db, o.ID, domain.OrderDraft, domain.OrderQueued); err != nil {
		t.Fatalf("draft->queued: %v", err)
	}
	if err := SetOrderStatus(ctx, db, o.ID, domain.OrderDraft, domain.OrderQueued); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second flip, got %v", err)
	}
}

func TestInsertPipeline_EmptyRejected(t *testing.T) {
	db := newRepoDB(t)
	if err := InsertPipeline(context.Background(), db, nil, nil); err == nil {
		t.Fatalf("expected error for empty pipeline")
	}
}

func TestInsertPipeline_FailsForMissingOrder(t *testing.T) {
	db := newRepoDB(t)
	jobs := []domain.Job{{ID: uuid.NewString(), OrderID: "missing", Kind: domain.StageRender, Status: domain.JobQueued}}
	if err := InsertPipeline(context.Background(), db, jobs, nil); err == nil {
		t.Fatalf("expected foreign key failure for unknown order")
	}
}

func TestDeleteOrder_RemovesJobsAndEntries(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o, _, _ := seedPipeline(t, db, "u1", 3, domain.StageCopy, domain.StageRender)

	if err := DeleteOrder(ctx, db, o.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	var jobs, entries, orders int64
	db.Model(&domain.Job{}).Where("order_id = ?", o.ID).Count(&jobs)
	db.Model(&domain.QueueEntry{}).Where("order_id = ?", o.ID).Count(&entries)
	db.Unscoped().Model(&domain.Order{}).Where("id = ?", o.ID).Count(&orders)
	if jobs != 0 || entries != 0 || orders != 0 {
		t.Fatalf("expected everything gone, got jobs=%d entries=%d orders=%d", jobs, entries, orders)
	}
	if err := DeleteOrder(ctx, db, o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListOrderJobs_PositionOrder(t *testing.T) {
	db := newRepoDB(t)
	o, _, _ := seedPipeline(t, db, "u1", 3, domain.StageCopy, domain.StageVision, domain.StageRender)

	jobs, err := ListOrderJobs(context.Background(), db, o.ID)
	if err != nil {
		t.Fatalf("ListOrderJobs: %v", err)
	}
	want := []string{domain.StageCopy, domain.StageVision, domain.StageRender}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, k := range want {
		if jobs[i].Kind != k || jobs[i].Position != i {
			t.Fatalf("job %d: got kind=%s pos=%d", i, jobs[i].Kind, jobs[i].Position)
		}
	}
}

func TestRefreshOrderStatus_Transitions(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o, jobs, _ := seedPipeline(t, db, "u1", 3, domain.StageCopy, domain.StageRender)

	setJob := func(id, status, msg string) {
		t.Helper()
		if err := db.Model(&domain.Job{}).Where("id = ?", id).
			Updates(map[string]any{"status": status, "error": msg}).Error; err != nil {
			t.Fatalf("update job: %v", err)
		}
	}

	got, err := RefreshOrderStatus(ctx, db, o.ID)
	if err != nil || got != domain.OrderQueued {
		t.Fatalf("expected queued, got %q err=%v", got, err)
	}

	setJob(jobs[0].ID, domain.JobRunning, "")
	if got, _ := RefreshOrderStatus(ctx, db, o.ID); got != domain.OrderProcessing {
		t.Fatalf("expected processing, got %q", got)
	}

	setJob(jobs[0].ID, domain.JobCompleted, "")
	setJob(jobs[1].ID, domain.JobCompleted, "")
	if got, _ := RefreshOrderStatus(ctx, db, o.ID); got != domain.OrderDone {
		t.Fatalf("expected done, got %q", got)
	}
	var stored domain.Order
	db.First(&stored, "id = ?", o.ID)
	if stored.Status != domain.OrderDone {
		t.Fatalf("expected stored status done, got %q", stored.Status)
	}
}

func TestRefreshOrderStatus_FailedCopiesError(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o, jobs, _ := seedPipeline(t, db, "u1", 3, domain.StageCopy, domain.StageRender)

	db.Model(&domain.Job{}).Where("id = ?", jobs[1].ID).
		Updates(map[string]any{"status": domain.JobFailed, "error": "provider exploded"})

	got, err := RefreshOrderStatus(ctx, db, o.ID)
	if err != nil || got != domain.OrderFailed {
		t.Fatalf("expected failed, got %q err=%v", got, err)
	}
	var stored domain.Order
	db.First(&stored, "id = ?", o.ID)
	if stored.Status != domain.OrderFailed || stored.Error != "provider exploded" {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
}

func TestRefreshOrderStatus_NoJobs(t *testing.T) {
	db := newRepoDB(t)
	if _, err := RefreshOrderStatus(context.Background(), db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenOrder_OnlyFromFailed(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o, _ := CreateOrder(ctx, db, "u1", "b1", nil)

	if err := ReopenOrder(ctx, db, o.ID); err != nil {
		t.Fatalf("ReopenOrder draft: %v", err)
	}
	if got, _ := GetOrder(ctx, db, o.ID, "u1"); got.Status != domain.OrderDraft {
		t.Fatalf("draft order reopened: %q", got.Status)
	}

	db.Model(&domain.Order{}).Where("id = ?", o.ID).Updates(map[string]any{"status": domain.OrderFailed, "error": "boom"})
	if err := ReopenOrder(ctx, db, o.ID); err != nil {
		t.Fatalf("ReopenOrder: %v", err)
	}
	got, _ := GetOrder(ctx, db, o.ID, "u1")
	if got.Status != domain.OrderProcessing || got.Error != "" {
		t.Fatalf("unexpected order after reopen: %+v", got)
	}
}
