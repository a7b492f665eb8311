package ingress

import (
	"sync"
	"time"
)

// TTLSet remembers string ids for a bounded time, for webhook redelivery
// suppression. It is process-local: a restart forgets everything, which is
// acceptable because downstream enqueueing is idempotent anyway.
type TTLSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]time.Time
	now     func() time.Time
}

func NewTTLSet(ttl time.Duration, maxSize int) *TTLSet {
	return &TTLSet{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen marks the id and reports whether it was already present and fresh.
// Expired entries are purged on access; when the set is full, the oldest
// entries make room for the new one.
func (s *TTLSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, at := range s.entries {
		if now.Sub(at) > s.ttl {
			delete(s.entries, k)
		}
	}

	if at, ok := s.entries[id]; ok && now.Sub(at) <= s.ttl {
		return true
	}

	if len(s.entries) >= s.maxSize {
		s.evictOldest(len(s.entries) - s.maxSize + 1)
	}
	s.entries[id] = now
	return false
}

func (s *TTLSet) evictOldest(n int) {
	for ; n > 0; n-- {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range s.entries {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.entries, oldestKey)
	}
}

// Len reports the current number of remembered ids.
func (s *TTLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
