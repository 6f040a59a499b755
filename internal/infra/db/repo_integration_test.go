//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cloudgate/internal/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&TokenCacheModel{}, &SubscriptionModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func resetDB(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	if err := gdb.Exec(`TRUNCATE tokencache, azuresubscriptions`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func TestCredentialRepository_RoundTrip(t *testing.T) {
	gdb := setupTestDB(t)
	resetDB(t, gdb)
	repo := NewCredentialRepository(gdb, false)
	ctx := context.Background()

	first := domain.CredentialRecord{
		UserKey:       "bob@example.com",
		Blob:          []byte(`{"entries":[]}`),
		LastWriteTime: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.Put(ctx, first, time.Time{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	records, err := repo.GetAll(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(records) != 1 || string(records[0].Blob) != `{"entries":[]}` {
		t.Fatalf("unexpected records %+v", records)
	}

	// Unconditional put overwrites, last write wins.
	second := first
	second.Blob = []byte(`{"entries":[{"clientId":"c"}]}`)
	second.LastWriteTime = first.LastWriteTime.Add(time.Minute)
	if err := repo.Put(ctx, second, time.Time{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	records, err = repo.GetAll(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(records) != 1 || !records[0].LastWriteTime.Equal(second.LastWriteTime) {
		t.Fatalf("overwrite not applied: %+v", records)
	}

	if err := repo.Delete(ctx, second); err != nil {
		t.Fatalf("delete: %v", err)
	}
	records, err = repo.GetAll(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("get all after delete: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestCredentialRepository_StrictConflict(t *testing.T) {
	gdb := setupTestDB(t)
	resetDB(t, gdb)
	repo := NewCredentialRepository(gdb, true)
	ctx := context.Background()

	base := domain.CredentialRecord{
		UserKey:       "bob@example.com",
		Blob:          []byte(`{}`),
		LastWriteTime: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.Put(ctx, base, time.Time{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	update := base
	update.LastWriteTime = base.LastWriteTime.Add(time.Minute)
	if err := repo.Put(ctx, update, base.LastWriteTime); err != nil {
		t.Fatalf("conditional put with matching version: %v", err)
	}

	stale := update
	stale.LastWriteTime = update.LastWriteTime.Add(time.Minute)
	if err := repo.Put(ctx, stale, base.LastWriteTime); !errors.Is(err, domain.ErrStoreConflict) {
		t.Fatalf("expected ErrStoreConflict, got %v", err)
	}
}

func TestSubscriptionRepository_Lifecycle(t *testing.T) {
	gdb := setupTestDB(t)
	resetDB(t, gdb)
	repo := NewSubscriptionRepository(gdb)
	ctx := context.Background()

	sub := domain.Subscription{
		ID:          "sub-1",
		DirectoryID: "tenant-1",
		ConnectedBy: "bob@example.com",
		ConnectedOn: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.Add(ctx, sub); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-adding the same subscription updates in place.
	if err := repo.Add(ctx, sub); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	got, err := repo.GetByUserAndID(ctx, "bob@example.com", "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DirectoryID != "tenant-1" {
		t.Fatalf("unexpected subscription %+v", got)
	}

	subs, err := repo.ListForUser(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected one subscription, got %d", len(subs))
	}
	if subs, _ := repo.ListForUser(ctx, "someone-else"); len(subs) != 0 {
		t.Fatalf("rows leaked across users: %+v", subs)
	}

	if err := repo.Remove(ctx, sub); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := repo.GetByUserAndID(ctx, "bob@example.com", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
