package repo

// Missing rows surface as ErrNotFound. Conditional updates that lose a race
// surface as ErrConflict.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict is returned when a conditional status transition matched no
// row because another writer moved the record first.
var ErrConflict = errors.New("conflicting update")

// CreateOrder inserts a draft Order holding the intent snapshot.
func CreateOrder(ctx context.Context, db *gorm.DB, userID, brandID string, intent datatypes.JSON) (*domain.Order, error) {
	now := time.Now().UTC()
	o := &domain.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		BrandID:    brandID,
		IntentJSON: intent,
		Status:     domain.OrderDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder fetches an order owned by userID.
func GetOrder(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// SetOrderStatus moves an order from one status to another. It returns
// ErrConflict when the order is not currently in from.
func SetOrderStatus(ctx context.Context, db *gorm.DB, id, from, to string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteOrder hard-deletes an order together with its jobs and queue
// entries. It is the compensating action for a failed pipeline insert.
func DeleteOrder(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&domain.QueueEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", id).Delete(&domain.Job{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id = ?", id).Delete(&domain.Order{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InsertPipeline stores the jobs of an order and their queue entries in one
// batch. Entries and jobs must already carry ids and predecessor links.
func InsertPipeline(ctx context.Context, db *gorm.DB, jobs []domain.Job, entries []domain.QueueEntry) error {
	if len(jobs) == 0 {
		return errors.New("empty pipeline")
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Order").Create(&jobs).Error; err != nil {
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

// ListOrderJobs returns an order's jobs in pipeline order.
func ListOrderJobs(ctx context.Context, db *gorm.DB, orderID string) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("position asc").
		Find(&out).Error
	return out, err
}

// GetJob fetches a single job by id.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// RefreshOrderStatus recomputes an order's status from its jobs: any failed
// job fails the order, all completed marks it done, any started job marks it
// processing. Terminal orders are left untouched. It returns the new status.
func RefreshOrderStatus(ctx context.Context, db *gorm.DB, orderID string) (string, error) {
	var rows []struct {
		Status string
		Error  string
	}
	if err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status", "error").
		Where("order_id = ?", orderID).
		Order("position asc").
		Scan(&rows).Error; err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}

	next := domain.OrderQueued
	completed := 0
	failure := ""
	for _, r := range rows {
		switch r.Status {
		case domain.JobFailed:
			if failure == "" {
				failure = r.Error
				if failure == "" {
					failure = "job failed"
				}
			}
		case domain.JobCompleted:
			completed++
			next = domain.OrderProcessing
		case domain.JobRunning:
			next = domain.OrderProcessing
		}
	}
	updates := map[string]any{"status": next}
	switch {
	case failure != "":
		next = domain.OrderFailed
		updates = map[string]any{"status": next, "error": failure}
	case completed == len(rows):
		next = domain.OrderDone
		updates = map[string]any{"status": next}
	}

	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status NOT IN ?", orderID, []string{domain.OrderDraft, domain.OrderDone, domain.OrderFailed}).
		Updates(updates).Error
	return next, err
}

// ReopenOrder moves a failed order back to processing and clears its error,
// after one of its jobs was manually requeued.
func ReopenOrder(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, domain.OrderFailed).
		Updates(map[string]any{"status": domain.OrderProcessing, "error": ""}).Error
}
