package db

import (
	"context"
	"fmt"
	"time"

	"cloudgate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository implements domain.CredentialStore on the
// "tokencache" table. With strict writes enabled, Put carries an
// optimistic-concurrency condition on last_write_time.
type CredentialRepository struct {
	db     *gorm.DB
	strict bool
}

func NewCredentialRepository(db *gorm.DB, strict bool) *CredentialRepository {
	return &CredentialRepository{db: db, strict: strict}
}

func (r *CredentialRepository) GetAll(ctx context.Context, userKey string) ([]domain.CredentialRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TokenCacheModel
	err := r.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", "", userKey).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	records := make([]domain.CredentialRecord, 0, len(models))
	for _, model := range models {
		records = append(records, domain.CredentialRecord{
			UserKey:       model.RowKey,
			Blob:          copyBytes(model.Blob),
			LastWriteTime: model.LastWriteTime.UTC(),
		})
	}
	return records, nil
}

func (r *CredentialRepository) Put(ctx context.Context, rec domain.CredentialRecord, ifUnmodifiedSince time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}

	if r.strict && !ifUnmodifiedSince.IsZero() {
		result := r.db.WithContext(ctx).
			Model(&TokenCacheModel{}).
			Where("partition_key = ? AND row_key = ? AND last_write_time = ?", "", rec.UserKey, ifUnmodifiedSince.UTC()).
			Updates(map[string]any{
				"blob":            rec.Blob,
				"last_write_time": rec.LastWriteTime.UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.ErrStoreConflict
		}
		return nil
	}

	model := TokenCacheModel{
		PartitionKey:  "",
		RowKey:        rec.UserKey,
		Blob:          rec.Blob,
		LastWriteTime: rec.LastWriteTime.UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partition_key"}, {Name: "row_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob", "last_write_time"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, rec domain.CredentialRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	err := r.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", "", rec.UserKey).
		Delete(&TokenCacheModel{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

var _ domain.CredentialStore = (*CredentialRepository)(nil)
