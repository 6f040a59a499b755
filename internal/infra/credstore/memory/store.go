// Package memory provides an in-process CredentialStore. It backs tests
// and single-instance deployments where no shared store is configured;
// cached tokens do not survive restarts or span instances.
package memory

import (
	"context"
	"sync"
	"time"

	"cloudgate/internal/domain"
)

type Store struct {
	strict bool

	mu      sync.Mutex
	records map[string]domain.CredentialRecord
}

func New(strict bool) *Store {
	return &Store{
		strict:  strict,
		records: make(map[string]domain.CredentialRecord),
	}
}

func (s *Store) GetAll(ctx context.Context, userKey string) ([]domain.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userKey]
	if !ok {
		return nil, nil
	}
	return []domain.CredentialRecord{rec}, nil
}

func (s *Store) Put(ctx context.Context, rec domain.CredentialRecord, ifUnmodifiedSince time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strict && !ifUnmodifiedSince.IsZero() {
		current, ok := s.records[rec.UserKey]
		if ok && !current.LastWriteTime.Equal(ifUnmodifiedSince) {
			return domain.ErrStoreConflict
		}
	}
	s.records[rec.UserKey] = rec
	return nil
}

func (s *Store) Delete(ctx context.Context, rec domain.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, rec.UserKey)
	return nil
}

var _ domain.CredentialStore = (*Store)(nil)
