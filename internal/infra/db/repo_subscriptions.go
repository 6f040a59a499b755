package db

import (
	"context"
	"errors"
	"fmt"

	"cloudgate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) ListForUser(ctx context.Context, userKey string) ([]domain.Subscription, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("partition_key = ?", userKey).
		Order("connected_on").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs := make([]domain.Subscription, 0, len(models))
	for _, model := range models {
		subs = append(subs, subscriptionFromModel(model))
	}
	return subs, nil
}

func (r *SubscriptionRepository) GetByUserAndID(ctx context.Context, userKey, subscriptionID string) (*domain.Subscription, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		First(&model, "partition_key = ? AND row_key = ?", userKey, subscriptionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	sub := subscriptionFromModel(model)
	return &sub, nil
}

func (r *SubscriptionRepository) Add(ctx context.Context, sub domain.Subscription) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := SubscriptionModel{
		PartitionKey: sub.ConnectedBy,
		RowKey:       sub.ID,
		DirectoryID:  sub.DirectoryID,
		ConnectedOn:  sub.ConnectedOn.UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partition_key"}, {Name: "row_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"directory_id", "connected_on"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Remove(ctx context.Context, sub domain.Subscription) error {
	if r.db == nil {
		return errDBUnavailable
	}
	err := r.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", sub.ConnectedBy, sub.ID).
		Delete(&SubscriptionModel{}).Error
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}

func subscriptionFromModel(model SubscriptionModel) domain.Subscription {
	return domain.Subscription{
		ID:          model.RowKey,
		DirectoryID: model.DirectoryID,
		ConnectedBy: model.PartitionKey,
		ConnectedOn: model.ConnectedOn.UTC(),
	}
}

var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)
