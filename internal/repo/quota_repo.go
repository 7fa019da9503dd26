package repo

// The quota ledger is monthly. Consumption and refunds are single guarded
// UPDATE statements so concurrent callers never read-modify-write the
// counters.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// ErrInsufficientQuota is returned when a consume would push any counter
// past its budget. Nothing is written in that case.
var ErrInsufficientQuota = errors.New("insufficient quota")

// QuotaPeriod formats t as the ledger period key (UTC "YYYY-MM").
func QuotaPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// EnsureLedger returns the brand's ledger for period, creating it with the
// given budgets when absent. Concurrent creators converge on one row.
func EnsureLedger(ctx context.Context, db *gorm.DB, brandID, period string, budget domain.Cost) (*domain.QuotaLedger, error) {
	now := time.Now().UTC()
	seed := &domain.QuotaLedger{
		ID:          uuid.NewString(),
		BrandID:     brandID,
		Period:      period,
		QuotaWoofs:  budget.Woofs,
		QuotaImages: budget.Images,
		QuotaVideos: budget.Videos,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "brand_id"}, {Name: "period"}},
			DoNothing: true,
		}).
		Create(seed).Error; err != nil {
		return nil, err
	}
	return GetLedger(ctx, db, brandID, period)
}

// GetLedger fetches a brand's ledger for period.
func GetLedger(ctx context.Context, db *gorm.DB, brandID, period string) (*domain.QuotaLedger, error) {
	var l domain.QuotaLedger
	if err := db.WithContext(ctx).
		Where("brand_id = ? AND period = ?", brandID, period).
		First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ConsumeQuota atomically adds cost to the ledger's counters when every
// counter stays within budget, and records the transaction.
func ConsumeQuota(ctx context.Context, db *gorm.DB, ledgerID string, cost domain.Cost, reference, note string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.QuotaLedger{}).
			Where("id = ?", ledgerID).
			Where("woofs_used + ? <= quota_woofs", cost.Woofs).
			Where("images_used + ? <= quota_images", cost.Images).
			Where("videos_used + ? <= quota_videos", cost.Videos).
			Updates(map[string]any{
				"woofs_used":  gorm.Expr("woofs_used + ?", cost.Woofs),
				"images_used": gorm.Expr("images_used + ?", cost.Images),
				"videos_used": gorm.Expr("videos_used + ?", cost.Videos),
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientQuota
		}
		return appendTransaction(tx, ledgerID, domain.QuotaConsume, cost, reference, note)
	})
}

// RefundQuota atomically subtracts cost from the ledger's counters and
// records the transaction. It returns ErrConflict when the counters hold
// less than cost, which means the refund does not match a prior consume.
func RefundQuota(ctx context.Context, db *gorm.DB, ledgerID string, cost domain.Cost, reference, note string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.QuotaLedger{}).
			Where("id = ?", ledgerID).
			Where("woofs_used >= ? AND images_used >= ? AND videos_used >= ?", cost.Woofs, cost.Images, cost.Videos).
			Updates(map[string]any{
				"woofs_used":  gorm.Expr("woofs_used - ?", cost.Woofs),
				"images_used": gorm.Expr("images_used - ?", cost.Images),
				"videos_used": gorm.Expr("videos_used - ?", cost.Videos),
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return appendTransaction(tx, ledgerID, domain.QuotaRefund, cost, reference, note)
	})
}

func appendTransaction(tx *gorm.DB, ledgerID, typ string, cost domain.Cost, reference, note string) error {
	var brandID string
	if err := tx.Model(&domain.QuotaLedger{}).Select("brand_id").Where("id = ?", ledgerID).Scan(&brandID).Error; err != nil {
		return err
	}
	return tx.Create(&domain.QuotaTransaction{
		ID:        uuid.NewString(),
		LedgerID:  ledgerID,
		BrandID:   brandID,
		Type:      typ,
		Woofs:     cost.Woofs,
		Images:    cost.Images,
		Videos:    cost.Videos,
		Reference: reference,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// ListQuotaTransactions returns a ledger's most recent transactions first.
func ListQuotaTransactions(ctx context.Context, db *gorm.DB, ledgerID string, limit int) ([]domain.QuotaTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.QuotaTransaction
	err := db.WithContext(ctx).
		Where("ledger_id = ?", ledgerID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
