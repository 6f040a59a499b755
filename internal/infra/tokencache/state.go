package tokencache

import (
	"encoding/json"
	"strings"
	"time"
)

// Entry is one cached token, keyed by the authority it was issued from, the
// resource audience it is good for, and the OAuth client that obtained it.
type Entry struct {
	Authority    string    `json:"authority"`
	Resource     string    `json:"resource"`
	ClientID     string    `json:"clientId"`
	UserKey      string    `json:"userKey,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresOn    time.Time `json:"expiresOn"`
}

// Valid reports whether the access token is still usable at now, leaving
// skew as a refresh buffer before the hard expiry.
func (e Entry) Valid(now time.Time, skew time.Duration) bool {
	return e.AccessToken != "" && now.Add(skew).Before(e.ExpiresOn)
}

func (e Entry) sameKey(other Entry) bool {
	return strings.EqualFold(e.Authority, other.Authority) &&
		strings.EqualFold(e.Resource, other.Resource) &&
		e.ClientID == other.ClientID &&
		e.UserKey == other.UserKey
}

// State is the live token-cache object: the deserialized form of one
// persisted blob plus a dirty flag tracking unsaved mutations.
type State struct {
	entries []Entry
	changed bool
}

func NewState() *State {
	return &State{}
}

// Lookup returns the entry for (authority, resource, clientID, userKey).
func (s *State) Lookup(authority, resource, clientID, userKey string) (Entry, bool) {
	want := Entry{Authority: authority, Resource: resource, ClientID: clientID, UserKey: userKey}
	for _, entry := range s.entries {
		if entry.sameKey(want) {
			return entry, true
		}
	}
	return Entry{}, false
}

// Put inserts or replaces the entry with the same key and marks the state
// changed.
func (s *State) Put(entry Entry) {
	for i := range s.entries {
		if s.entries[i].sameKey(entry) {
			s.entries[i] = entry
			s.changed = true
			return
		}
	}
	s.entries = append(s.entries, entry)
	s.changed = true
}

// Len reports the number of cached entries.
func (s *State) Len() int { return len(s.entries) }

// HasChanged reports whether the state has unsaved mutations.
func (s *State) HasChanged() bool { return s.changed }

// AcknowledgeWrite clears the dirty flag after a successful persist.
func (s *State) AcknowledgeWrite() { s.changed = false }

type stateBlob struct {
	Entries []Entry `json:"entries"`
}

// Serialize encodes the entries for durable storage. The dirty flag is
// process-local and not part of the blob.
func (s *State) Serialize() ([]byte, error) {
	return json.Marshal(stateBlob{Entries: s.entries})
}

// Deserialize replaces the live entries with the blob's contents. A nil or
// empty blob resets the state to empty rather than erroring. The dirty
// flag is cleared: the state now mirrors what is persisted.
func (s *State) Deserialize(blob []byte) error {
	if len(blob) == 0 {
		s.entries = nil
		s.changed = false
		return nil
	}
	var decoded stateBlob
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return err
	}
	s.entries = decoded.Entries
	s.changed = false
	return nil
}
