package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/alfie-backend/internal/domain"
)

// ListMemories returns every entry stored under one scope.
func ListMemories(ctx context.Context, db *gorm.DB, scope, scopeID string) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	err := db.WithContext(ctx).
		Where("scope = ? AND scope_id = ?", scope, scopeID).
		Order("key asc").
		Find(&out).Error
	return out, err
}

// PutMemory inserts or overwrites a (scope, scopeID, key) entry.
func PutMemory(ctx context.Context, db *gorm.DB, scope, scopeID, key, value string) error {
	now := time.Now().UTC()
	e := &domain.MemoryEntry{
		ID:        uuid.NewString(),
		Scope:     scope,
		ScopeID:   scopeID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "scope_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(e).Error
}

// DeleteMemory removes one entry. Missing entries are not an error.
func DeleteMemory(ctx context.Context, db *gorm.DB, scope, scopeID, key string) error {
	return db.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND key = ?", scope, scopeID, key).
		Delete(&domain.MemoryEntry{}).Error
}
