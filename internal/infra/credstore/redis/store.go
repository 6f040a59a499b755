// Package redis stores credential records in Redis, one hash per user.
// Every application instance sharing the Redis endpoint sees the same
// token-cache state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloudgate/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tokencache:"

type Store struct {
	client *redis.Client
	strict bool
}

// conditionalPut rejects the write when the stored last_write no longer
// matches what the caller read. ARGV[1]=expected last_write (RFC3339Nano,
// empty means "no record expected"), ARGV[2]=blob, ARGV[3]=new last_write.
var conditionalPut = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "last_write")
if ARGV[1] == "" then
  if current then return 0 end
else
  if not current or current ~= ARGV[1] then return 0 end
end
redis.call("HSET", KEYS[1], "blob", ARGV[2], "last_write", ARGV[3])
return 1
`)

func New(addr, password string, db int, strict bool) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, strict: strict}, nil
}

func (s *Store) GetAll(ctx context.Context, userKey string) ([]domain.CredentialRecord, error) {
	values, err := s.client.HGetAll(ctx, keyPrefix+userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	lastWrite, err := time.Parse(time.RFC3339Nano, values["last_write"])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed last_write for %s: %v", domain.ErrStoreUnavailable, userKey, err)
	}
	return []domain.CredentialRecord{{
		UserKey:       userKey,
		Blob:          []byte(values["blob"]),
		LastWriteTime: lastWrite.UTC(),
	}}, nil
}

func (s *Store) Put(ctx context.Context, rec domain.CredentialRecord, ifUnmodifiedSince time.Time) error {
	key := keyPrefix + rec.UserKey
	stamp := rec.LastWriteTime.UTC().Format(time.RFC3339Nano)

	if s.strict && !ifUnmodifiedSince.IsZero() {
		expected := ifUnmodifiedSince.UTC().Format(time.RFC3339Nano)
		result, err := conditionalPut.Run(ctx, s.client, []string{key}, expected, rec.Blob, stamp).Int()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		if result != 1 {
			return domain.ErrStoreConflict
		}
		return nil
	}

	if err := s.client.HSet(ctx, key, "blob", rec.Blob, "last_write", stamp).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, rec domain.CredentialRecord) error {
	if err := s.client.Del(ctx, keyPrefix+rec.UserKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

var _ domain.CredentialStore = (*Store)(nil)
