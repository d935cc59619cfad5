package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/threadpass/pipeline/pkg/core"
)

// Get returns the ownership record for one field, or nil if the field has
// never been written.
func (s *Store) Get(ctx context.Context, brandID, entityType, entityID, field string) (*core.FieldOwnership, error) {
	var rec core.FieldOwnership
	err := s.db.WithContext(ctx).
		Where("brand_id = ? AND entity_type = ? AND entity_id = ? AND field_name = ?",
			brandID, entityType, entityID, field).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a first-writer ownership record. The unique index on
// (brand, entity type, entity, field) makes a racing double-create fail,
// which the reconciler converts into a retry.
func (s *Store) Create(ctx context.Context, rec *core.FieldOwnership) error {
	if rec.LastWrittenAt.IsZero() {
		rec.LastWrittenAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Update persists rec only if the stored version still matches
// expectedVersion, bumping the version stamp. Two concurrent claimants
// on the same field cannot both succeed.
func (s *Store) Update(ctx context.Context, rec *core.FieldOwnership, expectedVersion int64) error {
	rec.Version = expectedVersion + 1
	result := s.db.WithContext(ctx).
		Model(&core.FieldOwnership{}).
		Where("id = ? AND version = ?", rec.ID, expectedVersion).
		Updates(map[string]any{
			"owner":           rec.Owner,
			"conflict":        rec.Conflict,
			"conflict_with":   rec.ConflictWith,
			"version":         rec.Version,
			"last_written_at": rec.LastWrittenAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrVersionConflict
	}
	return nil
}

// ListConflicts returns a brand's unresolved ownership conflicts for the
// dashboard's resolution queue.
func (s *Store) ListConflicts(ctx context.Context, brandID string) ([]core.FieldOwnership, error) {
	var recs []core.FieldOwnership
	err := s.db.WithContext(ctx).
		Where("brand_id = ? AND conflict = ?", brandID, true).
		Order("entity_type ASC, entity_id ASC, field_name ASC").
		Find(&recs).Error
	return recs, err
}

// ListByEntity returns all ownership records for one entity.
func (s *Store) ListByEntity(ctx context.Context, brandID, entityType, entityID string) ([]core.FieldOwnership, error) {
	var recs []core.FieldOwnership
	err := s.db.WithContext(ctx).
		Where("brand_id = ? AND entity_type = ? AND entity_id = ?", brandID, entityType, entityID).
		Order("field_name ASC").
		Find(&recs).Error
	return recs, err
}

// DeleteByEntity removes ownership records for a deleted entity.
func (s *Store) DeleteByEntity(ctx context.Context, brandID, entityType, entityID string) error {
	return s.db.WithContext(ctx).
		Where("brand_id = ? AND entity_type = ? AND entity_id = ?", brandID, entityType, entityID).
		Delete(&core.FieldOwnership{}).Error
}
