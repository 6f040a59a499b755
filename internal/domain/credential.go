package domain

import (
	"context"
	"time"
)

// CredentialRecord is one user's persisted token-cache state. At most one
// live record exists per user key; LastWriteTime strictly increases across
// persisted writes for that key.
type CredentialRecord struct {
	UserKey       string
	Blob          []byte
	LastWriteTime time.Time
}

// CredentialStore is the durable key-value storage behind the token cache.
// It knows nothing about the blob's internal structure.
//
// Put with a zero ifUnmodifiedSince is an unconditional last-write-wins
// upsert. A non-zero ifUnmodifiedSince asks the backend to reject the write
// with ErrStoreConflict when the stored LastWriteTime no longer matches;
// backends without strict mode enabled ignore the condition.
type CredentialStore interface {
	GetAll(ctx context.Context, userKey string) ([]CredentialRecord, error)
	Put(ctx context.Context, rec CredentialRecord, ifUnmodifiedSince time.Time) error
	Delete(ctx context.Context, rec CredentialRecord) error
}
