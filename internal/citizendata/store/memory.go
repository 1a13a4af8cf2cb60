// Package store holds owner records. Reads are projections: callers name the
// attributes they are allowed to see and nothing else is copied out.
package store

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
)

type record struct {
	profile   map[string]string
	updatedAt time.Time
}

type InMemory struct {
	mu      sync.RWMutex
	records map[domain.IdentityID]*record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[domain.IdentityID]*record)}
}

// Put merges values into the owner's record, creating it if needed.
func (s *InMemory) Put(_ context.Context, ownerID domain.IdentityID, values map[string]string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[ownerID]
	if !ok {
		r = &record{profile: make(map[string]string, len(values))}
		s.records[ownerID] = r
	}
	maps.Copy(r.profile, values)
	r.updatedAt = now
	return nil
}

// Project returns only the listed attributes that are present in the record.
func (s *InMemory) Project(_ context.Context, ownerID domain.IdentityID, attributes []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[ownerID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", ownerID, sentinel.ErrNotFound)
	}
	out := make(map[string]string, len(attributes))
	for _, name := range attributes {
		if v, ok := r.profile[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
