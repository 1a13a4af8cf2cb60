package store

import (
	"context"
	"sync"
	"time"
)

// InMemory is the single-process revocation list used when no redis is
// configured.
type InMemory struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	clock   Clock
}

type InMemoryOption func(*InMemory)

func WithClock(clock Clock) InMemoryOption {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{revoked: make(map[string]time.Time), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if jti == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for k, expiresAt := range s.revoked {
		if now.After(expiresAt) {
			delete(s.revoked, k)
		}
	}
	s.revoked[jti] = now.Add(ttl)
	return nil
}

func (s *InMemory) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiresAt, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	return !s.clock().After(expiresAt), nil
}
