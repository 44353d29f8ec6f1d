package lock

import (
	"context"
	"sync"
	"time"
)

type holder struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is a Store for single-process deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]holder
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]holder), now: time.Now}
}

// NewMemoryStoreWithClock lets tests control expiry.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{locks: make(map[string]holder), now: now}
}

func (s *MemoryStore) TryAcquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if h, ok := s.locks[name]; ok && now.Before(h.expiresAt) {
		return false, nil
	}
	s.locks[name] = holder{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.locks[name]; ok && h.owner == owner {
		delete(s.locks, name)
	}
	return nil
}
