// Package tokencache keeps a per-user OAuth token cache synchronized with a
// shared credential store. Callers bracket every cache access with
// BeforeAccess and AfterAccess so that concurrent web nodes converge on the
// newest persisted copy.
package tokencache

import (
	"context"
	"fmt"
	"time"

	"cloudgate/internal/domain"
)

// Cache binds one user's live token State to the backing CredentialStore.
type Cache struct {
	store   domain.CredentialStore
	userKey string
	strict  bool
	state   *State
	loaded  *domain.CredentialRecord
	now     func() time.Time
}

// New builds a cache for userKey. With strict enabled, persists are
// conditioned on the record version observed by the last BeforeAccess and
// fail with domain.ErrStoreConflict when another writer got there first.
func New(store domain.CredentialStore, userKey string, strict bool) *Cache {
	return &Cache{
		store:   store,
		userKey: userKey,
		strict:  strict,
		state:   NewState(),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Tests use this.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// State exposes the live token state for lookup and mutation between a
// BeforeAccess/AfterAccess pair.
func (c *Cache) State() *State { return c.state }

// UserKey returns the owner of this cache.
func (c *Cache) UserKey() string { return c.userKey }

// BeforeAccess refreshes the live state from the store. The fetched record
// is adopted only when there is no in-process copy yet or the fetched one
// is strictly newer; otherwise the live state, including any unsaved
// mutations, is left untouched.
func (c *Cache) BeforeAccess(ctx context.Context) error {
	records, err := c.store.GetAll(ctx, c.userKey)
	if err != nil {
		return fmt.Errorf("token cache load for %q: %w", c.userKey, err)
	}
	latest := newestRecord(records)
	if c.loaded != nil && (latest == nil || !latest.LastWriteTime.After(c.loaded.LastWriteTime)) {
		return nil
	}
	if latest == nil {
		if err := c.state.Deserialize(nil); err != nil {
			return err
		}
		c.loaded = nil
		return nil
	}
	if err := c.state.Deserialize(latest.Blob); err != nil {
		return fmt.Errorf("token cache decode for %q: %w", c.userKey, err)
	}
	adopted := *latest
	c.loaded = &adopted
	return nil
}

// AfterAccess persists the live state when it carries unsaved mutations.
// The write is stamped with the current UTC time, always after the last
// adopted record's time so the version ordering holds. When nothing
// changed no write is issued.
func (c *Cache) AfterAccess(ctx context.Context) error {
	if !c.state.HasChanged() {
		return nil
	}
	blob, err := c.state.Serialize()
	if err != nil {
		return fmt.Errorf("token cache encode for %q: %w", c.userKey, err)
	}
	stamp := c.now().UTC()
	if c.loaded != nil && !stamp.After(c.loaded.LastWriteTime) {
		stamp = c.loaded.LastWriteTime.Add(time.Nanosecond)
	}
	rec := domain.CredentialRecord{
		UserKey:       c.userKey,
		Blob:          blob,
		LastWriteTime: stamp,
	}
	var ifUnmodifiedSince time.Time
	if c.strict && c.loaded != nil {
		ifUnmodifiedSince = c.loaded.LastWriteTime
	}
	if err := c.store.Put(ctx, rec, ifUnmodifiedSince); err != nil {
		return fmt.Errorf("token cache persist for %q: %w", c.userKey, err)
	}
	c.loaded = &rec
	c.state.AcknowledgeWrite()
	return nil
}

// Clear deletes every persisted record for the user and resets the live
// state to empty. Used before redeeming a fresh authorization code so the
// new sign-in starts from a clean slate.
func (c *Cache) Clear(ctx context.Context) error {
	records, err := c.store.GetAll(ctx, c.userKey)
	if err != nil {
		return fmt.Errorf("token cache clear for %q: %w", c.userKey, err)
	}
	for _, rec := range records {
		if err := c.store.Delete(ctx, rec); err != nil {
			return fmt.Errorf("token cache clear for %q: %w", c.userKey, err)
		}
	}
	if err := c.state.Deserialize(nil); err != nil {
		return err
	}
	c.loaded = nil
	return nil
}

func newestRecord(records []domain.CredentialRecord) *domain.CredentialRecord {
	var latest *domain.CredentialRecord
	for i := range records {
		if latest == nil || records[i].LastWriteTime.After(latest.LastWriteTime) {
			latest = &records[i]
		}
	}
	return latest
}
