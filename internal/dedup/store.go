package dedup

import (
	"sync"
	"time"
)

const defaultTTL = 24 * time.Hour

// Result is the outcome of a Check call.
type Result struct {
	Duplicate bool
	PriorID   string
}

// Store is the short-lived key-value seen-set backing dedup. Dedup is
// best-effort: losing this state only costs a handful of avoidable CMS
// calls, since the collaborator remains the authority for uniqueness.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	contentID string
	expiresAt time.Time
}

// NewStore builds an in-memory TTL-backed dedup store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Check reports whether key has already been marked and, if so, the prior
// content id it was marked with. Expired entries are treated as absent
// and swept lazily.
func (s *Store) Check(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		if ok {
			delete(s.entries, key)
		}
		return Result{}
	}
	return Result{Duplicate: true, PriorID: e.contentID}
}

// Mark records key as seen, associated with contentID, for ttl (0 uses the
// default 24h).
func (s *Store) Mark(key, contentID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{contentID: contentID, expiresAt: s.now().Add(ttl)}
}

// Len reports the number of retained (possibly expired) entries, used by
// tests and the admin API's diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
