package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// QueueStats returns the number of queue entries visible to userID and the
// greatest UpdatedAt among them. When there are no rows maxUpdatedAt is nil.
func QueueStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.QueueEntry{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return countAndLatest(q)
}

// BatchClipsStats returns clip count and latest clip change for one batch.
// Clip rows are the source of truth, so their timestamps drive batch ETags.
func BatchClipsStats(ctx context.Context, db *gorm.DB, batchID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.BatchClip{}).Where("batch_id = ?", batchID)
	return countAndLatest(q)
}

// countAndLatest feeds the weak ETags on list and batch endpoints.
func countAndLatest(q *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// MAX(updated_at) comes back as TEXT from SQLite; order and take one row.
	var row struct {
		UpdatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
