package repo

// job_queue transitions:
//
//	blocked ──(predecessor completed)──▶ queued ──claim──▶ running
//	running ──complete──▶ completed
//	running ──fail (attempts left)──▶ queued
//	running ──fail (exhausted / fatal)──▶ failed ──▶ blocked successors failed
//	running ──release (worker stopped)──▶ queued, attempts unchanged
//	running ──(stuck past threshold)──▶ queued (or failed when exhausted)
//	any unresolved ──(older than max age)──▶ failed
//
// Every transition is a conditional UPDATE on the current status, so two
// workers can never both move the same entry. Stage entries mirror their
// status and attempt counter onto the linked Job row in the same transaction.

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// Terminal error messages written by the sweeps.
const (
	MsgPredecessorFailed = "predecessor job failed"
	MsgStuckExhausted    = "job stuck in running and exhausted its attempts"
	MsgExpired           = "job exceeded its maximum age without completing"
)

// QueueFilter narrows monitor listings. Empty fields match everything.
type QueueFilter struct {
	UserID  string
	Status  string
	Type    string
	OrderID string
}

// EnqueueEntries inserts standalone queue entries (clip renders, manual
// retries). Pipeline entries go through InsertPipeline.
func EnqueueEntries(ctx context.Context, db *gorm.DB, entries []domain.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&entries).Error
}

// GetQueueEntry fetches one entry by id.
func GetQueueEntry(ctx context.Context, db *gorm.DB, id string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimQueueEntries moves up to limit due entries from queued to running and
// returns the ones this caller won. On Postgres the candidate scan uses
// FOR UPDATE SKIP LOCKED so concurrent workers pick disjoint rows; on every
// driver the per-row conditional update is the final arbiter.
func ClaimQueueEntries(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	var claimed []domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", domain.JobQueued).Order("created_at asc").Limit(limit)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var cands []domain.QueueEntry
		if err := q.Find(&cands).Error; err != nil {
			return err
		}
		for _, c := range cands {
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND status = ?", c.ID, domain.JobQueued).
				Updates(map[string]any{"status": domain.JobRunning, "started_at": now, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue // another worker won this row
			}
			c.Status = domain.JobRunning
			c.StartedAt = &now
			c.UpdatedAt = now
			if err := mirrorJob(tx, c, map[string]any{"status": domain.JobRunning}); err != nil {
				return err
			}
			claimed = append(claimed, c)
		}
		return nil
	})
	return claimed, err
}

// CompleteQueueEntry marks a running entry completed, stores the stage
// output on its Job, and releases blocked successors to queued. It returns
// the released successor entries.
func CompleteQueueEntry(ctx context.Context, db *gorm.DB, id string, output datatypes.JSON, now time.Time) ([]domain.QueueEntry, error) {
	var released []domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e domain.QueueEntry
		if err := tx.Where("id = ?", id).First(&e).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.QueueEntry{}).
			Where("id = ? AND status = ?", id, domain.JobRunning).
			Updates(map[string]any{"status": domain.JobCompleted, "error": "", "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		jobFields := map[string]any{"status": domain.JobCompleted, "error": ""}
		if len(output) > 0 {
			jobFields["output"] = output
		}
		if err := mirrorJob(tx, e, jobFields); err != nil {
			return err
		}

		if err := tx.Where("predecessor_id = ? AND status = ?", id, domain.JobBlocked).Find(&released).Error; err != nil {
			return err
		}
		for i := range released {
			r := &released[i]
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND status = ?", r.ID, domain.JobBlocked).
				Updates(map[string]any{"status": domain.JobQueued, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			r.Status = domain.JobQueued
			if err := mirrorJob(tx, *r, map[string]any{"status": domain.JobQueued}); err != nil {
				return err
			}
		}
		return nil
	})
	return released, err
}

// FailOutcome describes what FailQueueEntry did.
type FailOutcome struct {
	Entry    domain.QueueEntry   // entry after the transition
	Requeued bool                // true when attempts remained
	Cascaded []domain.QueueEntry // blocked successors failed with it
}

// FailQueueEntry records a failed run. Retryable failures with attempts left
// go back to queued with attempts+1; otherwise the entry fails terminally
// (attempts never exceed max_attempts) and every blocked successor chain
// fails with MsgPredecessorFailed.
func FailQueueEntry(ctx context.Context, db *gorm.DB, id, msg string, retryable bool, now time.Time) (FailOutcome, error) {
	var out FailOutcome
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e domain.QueueEntry
		if err := tx.Where("id = ?", id).First(&e).Error; err != nil {
			return err
		}
		if e.Status != domain.JobRunning {
			return ErrConflict
		}
		attempts := e.Attempts + 1
		if attempts > e.MaxAttempts {
			attempts = e.MaxAttempts
		}
		status := domain.JobFailed
		if retryable && attempts < e.MaxAttempts {
			status = domain.JobQueued
			out.Requeued = true
		}
		res := tx.Model(&domain.QueueEntry{}).
			Where("id = ? AND status = ?", id, domain.JobRunning).
			Updates(map[string]any{"status": status, "attempts": attempts, "error": msg, "started_at": nil, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		e.Status, e.Attempts, e.Error, e.StartedAt = status, attempts, msg, nil
		if err := mirrorJob(tx, e, map[string]any{"status": status, "attempt": attempts, "error": msg}); err != nil {
			return err
		}
		out.Entry = e
		if status == domain.JobFailed {
			cascaded, err := failBlockedSuccessors(tx, []string{id}, now)
			if err != nil {
				return err
			}
			out.Cascaded = cascaded
		}
		return nil
	})
	return out, err
}

// ReleaseQueueEntry hands a running entry back to queued without charging
// an attempt. The worker uses it when it stops before the run finished.
func ReleaseQueueEntry(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&e).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.QueueEntry{}).
			Where("id = ? AND status = ?", id, domain.JobRunning).
			Updates(map[string]any{"status": domain.JobQueued, "started_at": nil, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		e.Status, e.StartedAt = domain.JobQueued, nil
		return mirrorJob(tx, e, map[string]any{"status": domain.JobQueued})
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SweepResult lists the entries a sweep moved.
type SweepResult struct {
	Unlocked []domain.QueueEntry
	Failed   []domain.QueueEntry
}

// UnlockStuck returns entries running since before cutoff to queued,
// incrementing their attempts. Entries whose next attempt would exceed
// max_attempts are failed instead so the attempt ceiling holds.
func UnlockStuck(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (SweepResult, error) {
	var out SweepResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND updated_at < ?", domain.JobRunning, cutoff)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var stuck []domain.QueueEntry
		if err := q.Find(&stuck).Error; err != nil {
			return err
		}
		var failedIDs []string
		for _, e := range stuck {
			attempts := e.Attempts + 1
			status, msg := domain.JobQueued, e.Error
			if attempts >= e.MaxAttempts {
				attempts, status, msg = e.MaxAttempts, domain.JobFailed, MsgStuckExhausted
			}
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND status = ?", e.ID, domain.JobRunning).
				Updates(map[string]any{"status": status, "attempts": attempts, "error": msg, "started_at": nil, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			e.Status, e.Attempts, e.Error, e.StartedAt = status, attempts, msg, nil
			if err := mirrorJob(tx, e, map[string]any{"status": status, "attempt": attempts, "error": msg}); err != nil {
				return err
			}
			if status == domain.JobFailed {
				out.Failed = append(out.Failed, e)
				failedIDs = append(failedIDs, e.ID)
			} else {
				out.Unlocked = append(out.Unlocked, e)
			}
		}
		cascaded, err := failBlockedSuccessors(tx, failedIDs, now)
		if err != nil {
			return err
		}
		out.Failed = append(out.Failed, cascaded...)
		return nil
	})
	return out, err
}

// FailExpired forces every unresolved entry created before cutoff to failed
// with MsgExpired.
func FailExpired(ctx context.Context, db *gorm.DB, cutoff, now time.Time) ([]domain.QueueEntry, error) {
	var failed []domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []domain.QueueEntry
		if err := tx.Where("status NOT IN ? AND created_at < ?", []string{domain.JobCompleted, domain.JobFailed}, cutoff).
			Find(&expired).Error; err != nil {
			return err
		}
		var ids []string
		for _, e := range expired {
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND status = ?", e.ID, e.Status).
				Updates(map[string]any{"status": domain.JobFailed, "error": MsgExpired, "started_at": nil, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			e.Status, e.Error = domain.JobFailed, MsgExpired
			if err := mirrorJob(tx, e, map[string]any{"status": domain.JobFailed, "error": MsgExpired}); err != nil {
				return err
			}
			failed = append(failed, e)
			ids = append(ids, e.ID)
		}
		cascaded, err := failBlockedSuccessors(tx, ids, now)
		if err != nil {
			return err
		}
		failed = append(failed, cascaded...)
		return nil
	})
	return failed, err
}

// RequeueFailed resets a failed entry owned by userID to queued with a fresh
// attempt budget. Blocked successors failed by the cascade are returned to
// blocked so the pipeline can resume.
func RequeueFailed(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&e).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.QueueEntry{}).
			Where("id = ? AND status = ?", id, domain.JobFailed).
			Updates(map[string]any{"status": domain.JobQueued, "attempts": 0, "error": "", "started_at": nil, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		e.Status, e.Attempts, e.Error = domain.JobQueued, 0, ""
		if err := mirrorJob(tx, e, map[string]any{"status": domain.JobQueued, "attempt": 0, "error": ""}); err != nil {
			return err
		}
		return reblockSuccessors(tx, id, now)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListQueuePage returns entries matching f, newest first.
func ListQueuePage(ctx context.Context, db *gorm.DB, f QueueFilter, offset, limit int) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	err := applyQueueFilter(db.WithContext(ctx), f).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountQueue returns the number of entries matching f.
func CountQueue(ctx context.Context, db *gorm.DB, f QueueFilter) (int64, error) {
	var total int64
	err := applyQueueFilter(db.WithContext(ctx).Model(&domain.QueueEntry{}), f).Count(&total).Error
	return total, err
}

// QueueStatusCounts returns entry counts keyed by status for one user.
func QueueStatusCounts(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	q := db.WithContext(ctx).Model(&domain.QueueEntry{}).Select("status, COUNT(*) AS n")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{
		domain.JobQueued: 0, domain.JobBlocked: 0, domain.JobRunning: 0,
		domain.JobCompleted: 0, domain.JobFailed: 0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func applyQueueFilter(q *gorm.DB, f QueueFilter) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	return q
}

// mirrorJob copies a stage entry's transition onto its Job row.
func mirrorJob(tx *gorm.DB, e domain.QueueEntry, fields map[string]any) error {
	if e.Type != domain.QueueTypeStage || e.JobID == nil {
		return nil
	}
	return tx.Model(&domain.Job{}).Where("id = ?", *e.JobID).Updates(fields).Error
}

// failBlockedSuccessors walks predecessor links breadth-first and fails every
// blocked entry downstream of ids.
func failBlockedSuccessors(tx *gorm.DB, ids []string, now time.Time) ([]domain.QueueEntry, error) {
	var failed []domain.QueueEntry
	frontier := ids
	for len(frontier) > 0 {
		var next []domain.QueueEntry
		if err := tx.Where("predecessor_id IN ? AND status = ?", frontier, domain.JobBlocked).Find(&next).Error; err != nil {
			return nil, err
		}
		frontier = frontier[:0:0]
		for _, e := range next {
			res := tx.Model(&domain.QueueEntry{}).
				Where("id = ? AND status = ?", e.ID, domain.JobBlocked).
				Updates(map[string]any{"status": domain.JobFailed, "error": MsgPredecessorFailed, "updated_at": now})
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			e.Status, e.Error = domain.JobFailed, MsgPredecessorFailed
			if err := mirrorJob(tx, e, map[string]any{"status": domain.JobFailed, "error": MsgPredecessorFailed}); err != nil {
				return nil, err
			}
			failed = append(failed, e)
			frontier = append(frontier, e.ID)
		}
	}
	return failed, nil
}

// reblockSuccessors undoes a predecessor cascade after a manual retry.
func reblockSuccessors(tx *gorm.DB, id string, now time.Time) error {
	frontier := []string{id}
	for len(frontier) > 0 {
		var next []domain.QueueEntry
		if err := tx.Where("predecessor_id IN ? AND status = ? AND error = ?", frontier, domain.JobFailed, MsgPredecessorFailed).
			Find(&next).Error; err != nil {
			return err
		}
		frontier = frontier[:0:0]
		for _, e := range next {
			if err := tx.Model(&domain.QueueEntry{}).
				Where("id = ?", e.ID).
				Updates(map[string]any{"status": domain.JobBlocked, "error": "", "updated_at": now}).Error; err != nil {
				return err
			}
			e.Status = domain.JobBlocked
			if err := mirrorJob(tx, e, map[string]any{"status": domain.JobBlocked, "error": ""}); err != nil {
				return err
			}
			frontier = append(frontier, e.ID)
		}
	}
	return nil
}

// ActiveClipEntries reports which of clipIDs already have an unresolved
// render entry (queued, blocked or running).
func ActiveClipEntries(ctx context.Context, db *gorm.DB, clipIDs []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(clipIDs) == 0 {
		return out, nil
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Where("type = ? AND clip_id IN ? AND status IN ?", domain.QueueTypeClip, clipIDs,
			[]string{domain.JobQueued, domain.JobBlocked, domain.JobRunning}).
		Pluck("clip_id", &ids).Error
	for _, id := range ids {
		out[id] = true
	}
	return out, err
}
