package db

import (
	"errors"
	"fmt"

	"cloudgate/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

// NewStore connects to postgres. Subscriptions always live there, so a
// missing DSN is a configuration error, not a degraded mode.
func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{DB: gdb}, nil
}

// Migrate provisions the backing tables if absent. Idempotent; called on
// every start so a fresh environment needs no manual schema step.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(&TokenCacheModel{}, &SubscriptionModel{})
}
