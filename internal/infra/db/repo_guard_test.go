package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloudgate/internal/domain"
)

func TestCredentialRepositoryNilDBMapsToStoreUnavailable(t *testing.T) {
	repo := NewCredentialRepository(nil, false)
	ctx := context.Background()
	rec := domain.CredentialRecord{UserKey: "alice", Blob: []byte("blob"), LastWriteTime: time.Now()}

	if _, err := repo.GetAll(ctx, "alice"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("GetAll error = %v, want ErrStoreUnavailable", err)
	}
	if err := repo.Put(ctx, rec, time.Time{}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Put error = %v, want ErrStoreUnavailable", err)
	}
	if err := repo.Delete(ctx, rec); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Delete error = %v, want ErrStoreUnavailable", err)
	}
}
