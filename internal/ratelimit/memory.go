package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. It only enforces limits within a
// single instance; use RedisStore when running several.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewMemoryStore creates an in-process counter store. Expired entries are
// swept lazily from Hit at most once per sweepEvery; zero sweeps on every call.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		sweepEvery: sweepEvery,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, p Policy) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.sweepEvery {
		s.sweep(now)
	}

	e, ok := s.entries[key]
	if !ok || !now.Before(e.ResetAt) {
		e = &Entry{Count: 1, ResetAt: now.Add(p.Window)}
		s.entries[key] = e
		return *e, true, nil
	}
	if e.Count >= p.MaxRequests {
		return *e, false, nil
	}
	e.Count++
	return *e, true, nil
}

// sweep drops entries whose window ended before now
func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if e.ResetAt.Before(now) {
			delete(s.entries, k)
		}
	}
	s.lastSweep = now
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
