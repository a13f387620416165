package cooldown

import (
	"context"
	"sync"
	"time"
)

// InMemory keeps cooldowns in a map. Each Set drops entries that elapsed
// before the caller's clock, taken as availableAt minus ttl.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]time.Time)}
}

func (s *InMemory) Set(_ context.Context, key string, availableAt time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := availableAt.Add(-ttl)
	for k, at := range s.entries {
		if !at.After(now) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = availableAt
	return nil
}

func (s *InMemory) Get(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.entries[key]
	return at, ok, nil
}
