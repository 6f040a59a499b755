package domain

import (
	"context"
	"time"
)

// Subscription is a cloud subscription connected by a user.
type Subscription struct {
	ID          string
	DirectoryID string
	ConnectedBy string
	ConnectedOn time.Time

	// NeedsRepair is computed per request from the service identity's
	// current access; it is never persisted.
	NeedsRepair bool
}

// SubscriptionRepository stores which subscription belongs to which user.
type SubscriptionRepository interface {
	ListForUser(ctx context.Context, userKey string) ([]Subscription, error)
	GetByUserAndID(ctx context.Context, userKey, subscriptionID string) (*Subscription, error)
	Add(ctx context.Context, sub Subscription) error
	Remove(ctx context.Context, sub Subscription) error
}
