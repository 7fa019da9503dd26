package repo

// Clip rows are the only stored source of truth for batch progress. Reset
// helpers touch exactly the rows they name.

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// ClipResult is the outcome of one clip render.
type ClipResult struct {
	Status   string
	URL      string
	ThumbURL string
	Duration float64
	Error    string
}

// CreateBatch inserts a batch with its nested videos and clips, plus the
// queue entries that render the clips, in one transaction.
func CreateBatch(ctx context.Context, db *gorm.DB, b *domain.VideoBatch, entries []domain.QueueEntry) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// preloadTree loads videos and clips in index order.
func preloadTree(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Videos", func(db *gorm.DB) *gorm.DB { return db.Order("video_index asc") }).
		Preload("Videos.Clips", func(db *gorm.DB) *gorm.DB { return db.Order("clip_index asc") })
}

// ListBatches returns a user's explicit batches (optionally one brand's),
// newest first, with videos and clips loaded.
func ListBatches(ctx context.Context, db *gorm.DB, userID, brandID string) ([]domain.VideoBatch, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if brandID != "" {
		q = q.Where("brand_id = ?", brandID)
	}
	var out []domain.VideoBatch
	err := preloadTree(q).Order("created_at desc").Find(&out).Error
	return out, err
}

// GetBatch fetches one batch owned by userID with videos and clips loaded.
func GetBatch(ctx context.Context, db *gorm.DB, id, userID string) (*domain.VideoBatch, error) {
	var b domain.VideoBatch
	q := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID)
	if err := preloadTree(q).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatchClips returns a batch's clips ordered by video then clip index.
func ListBatchClips(ctx context.Context, db *gorm.DB, batchID string) ([]domain.BatchClip, error) {
	var out []domain.BatchClip
	err := db.WithContext(ctx).
		Model(&domain.BatchClip{}).
		Joins("JOIN batch_videos ON batch_videos.id = batch_clips.video_id").
		Where("batch_clips.batch_id = ?", batchID).
		Order("batch_videos.video_index asc, batch_clips.clip_index asc").
		Find(&out).Error
	return out, err
}

// GetClip fetches a clip by id.
func GetClip(ctx context.Context, db *gorm.DB, id string) (*domain.BatchClip, error) {
	var c domain.BatchClip
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOwnedClip fetches a clip whose batch belongs to userID.
func GetOwnedClip(ctx context.Context, db *gorm.DB, id, userID string) (*domain.BatchClip, error) {
	var c domain.BatchClip
	err := db.WithContext(ctx).
		Joins("JOIN video_batches ON video_batches.id = batch_clips.batch_id").
		Where("batch_clips.id = ? AND video_batches.user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOwnedVideo fetches a video (with clips) whose batch belongs to userID.
func GetOwnedVideo(ctx context.Context, db *gorm.DB, id, userID string) (*domain.BatchVideo, error) {
	var v domain.BatchVideo
	err := db.WithContext(ctx).
		Preload("Clips", func(db *gorm.DB) *gorm.DB { return db.Order("clip_index asc") }).
		Joins("JOIN video_batches ON video_batches.id = batch_videos.batch_id").
		Where("batch_videos.id = ? AND video_batches.user_id = ?", id, userID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVideo fetches a video with its clips.
func GetVideo(ctx context.Context, db *gorm.DB, id string) (*domain.BatchVideo, error) {
	var v domain.BatchVideo
	err := db.WithContext(ctx).
		Preload("Clips", func(db *gorm.DB) *gorm.DB { return db.Order("clip_index asc") }).
		Where("id = ?", id).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func resetClipFields(now time.Time) map[string]any {
	return map[string]any{
		"status":     domain.ClipPending,
		"url":        "",
		"thumb_url":  "",
		"duration":   0,
		"error":      "",
		"updated_at": now,
	}
}

// Only settled clips can be reset. Queued and processing clips belong to a
// live queue entry.
var resettableClipStatuses = []string{domain.ClipCompleted, domain.ClipDone, domain.ClipFailed, domain.ClipError}

// ResetClip returns exactly one settled clip to pending, clearing its output
// and error. Sibling rows are not touched. A clip that is not settled yields
// ErrConflict, so of two concurrent resets only one succeeds.
func ResetClip(ctx context.Context, db *gorm.DB, clipID string, now time.Time) error {
	db = db.WithContext(ctx)
	res := db.Model(&domain.BatchClip{}).
		Where("id = ? AND status IN ?", clipID, resettableClipStatuses).
		Updates(resetClipFields(now))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := db.Model(&domain.BatchClip{}).Where("id = ?", clipID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ResetVideo returns every clip of a video to pending and persists the
// video's own status as pending. Every clip must be settled, otherwise
// nothing changes and ErrConflict is returned.
func ResetVideo(ctx context.Context, db *gorm.DB, videoID string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&domain.BatchClip{}).Where("video_id = ?", videoID).Count(&total).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.BatchClip{}).
			Where("video_id = ? AND status IN ?", videoID, resettableClipStatuses).
			Updates(resetClipFields(now))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != total {
			return ErrConflict
		}
		res = tx.Model(&domain.BatchVideo{}).
			Where("id = ?", videoID).
			Updates(map[string]any{"status": domain.RollupPending, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetClipStatus moves a clip to status without touching its output.
func SetClipStatus(ctx context.Context, db *gorm.DB, clipID, status string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.BatchClip{}).
		Where("id = ?", clipID).
		Updates(map[string]any{"status": status, "updated_at": now}).Error
}

// UpdateClipResult stores a render outcome on one clip.
func UpdateClipResult(ctx context.Context, db *gorm.DB, clipID string, r ClipResult, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.BatchClip{}).
		Where("id = ?", clipID).
		Updates(map[string]any{
			"status":     r.Status,
			"url":        r.URL,
			"thumb_url":  r.ThumbURL,
			"duration":   r.Duration,
			"error":      r.Error,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveVideoStatus persists a derived video status.
func SaveVideoStatus(ctx context.Context, db *gorm.DB, videoID, status string) error {
	return db.WithContext(ctx).
		Model(&domain.BatchVideo{}).
		Where("id = ?", videoID).
		Update("status", status).Error
}

// SaveBatchStatus persists a derived batch status.
func SaveBatchStatus(ctx context.Context, db *gorm.DB, batchID, status string) error {
	return db.WithContext(ctx).
		Model(&domain.VideoBatch{}).
		Where("id = ?", batchID).
		Update("status", status).Error
}

// ListGroupedRecords returns a user's generation records that carry a script
// group, oldest first so group members keep their creation order.
func ListGroupedRecords(ctx context.Context, db *gorm.DB, userID, brandID string) ([]domain.GenerationRecord, error) {
	q := db.WithContext(ctx).Where("user_id = ? AND script_group <> ''", userID)
	if brandID != "" {
		q = q.Where("brand_id = ?", brandID)
	}
	var out []domain.GenerationRecord
	err := q.Order("created_at asc").Find(&out).Error
	return out, err
}

// ListGroupRecords returns the members of one virtual batch.
func ListGroupRecords(ctx context.Context, db *gorm.DB, userID, group string) ([]domain.GenerationRecord, error) {
	var out []domain.GenerationRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND script_group = ?", userID, group).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
