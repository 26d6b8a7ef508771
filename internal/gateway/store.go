package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

type codeKey struct {
	sessionID string
	phone     string
}

type codeEntry struct {
	hash      string
	expiresAt time.Time
}

// Store keeps the hash of the last code issued per (session, phone) in
// memory. Codes are single-use and a newer code replaces the older one.
type Store struct {
	mu      sync.Mutex
	entries map[codeKey]codeEntry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[codeKey]codeEntry)}
}

func hashCode(sessionID, phone, code string) string {
	h := sha256.Sum256([]byte(sessionID + ":" + phone + ":" + code))
	return hex.EncodeToString(h[:])
}

// Put records code for (sessionID, phone) until expiresAt.
func (s *Store) Put(sessionID, phone, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[codeKey{sessionID, phone}] = codeEntry{
		hash:      hashCode(sessionID, phone, code),
		expiresAt: expiresAt,
	}
}

// Consume reports whether code matches the live entry for (sessionID,
// phone). A match deletes the entry. An expired entry is deleted and never
// matches.
func (s *Store) Consume(sessionID, phone, code string, now time.Time) bool {
	key := codeKey{sessionID, phone}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return false
	}
	want := hashCode(sessionID, phone, code)
	if subtle.ConstantTimeCompare([]byte(entry.hash), []byte(want)) != 1 {
		return false
	}
	delete(s.entries, key)
	return true
}

// Prune deletes every entry that has expired at now and returns how many
// were removed.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
