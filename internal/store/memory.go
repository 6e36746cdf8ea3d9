package store

import (
	"sync"
	"time"
)

const sweepInterval = time.Minute

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process TTLStore. Expiry is enforced lazily on lookup
// and by a periodic sweep, so stale entries never require the writer's
// cooperation to disappear.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	stop    chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts its sweep loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Put(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// PutIfAbsent performs an atomic insert-if-absent under the store lock.
// An expired entry counts as absent.
func (s *MemoryStore) PutIfAbsent(key, value string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Exists(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Close stops the sweep loop.
func (s *MemoryStore) Close() {
	close(s.stop)
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
