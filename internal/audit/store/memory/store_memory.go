package memory

import (
	"context"
	"slices"
	"sync"

	"govconsent/internal/audit"
	"govconsent/pkg/domain"
)

// InMemoryStore is an append-only audit store for tests and single-process
// deployments. Entries are never updated or removed.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

// ListByActor returns entries the identity performed, newest first.
func (s *InMemoryStore) ListByActor(_ context.Context, actorID domain.IdentityID) ([]audit.Entry, error) {
	return s.filter(func(e audit.Entry) bool { return e.ActorID == actorID }), nil
}

// ListByTarget returns entries about the identity, newest first.
func (s *InMemoryStore) ListByTarget(_ context.Context, targetID domain.IdentityID) ([]audit.Entry, error) {
	return s.filter(func(e audit.Entry) bool { return e.TargetID == targetID }), nil
}

// ListAll returns every entry, newest first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Entry, error) {
	return s.filter(func(audit.Entry) bool { return true }), nil
}

func (s *InMemoryStore) filter(keep func(audit.Entry) bool) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, 0)
	// Walk backwards so ties on timestamp keep insertion order reversed.
	for i := len(s.entries) - 1; i >= 0; i-- {
		if keep(s.entries[i]) {
			out = append(out, cloneEntry(s.entries[i]))
		}
	}
	slices.SortStableFunc(out, func(a, b audit.Entry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func cloneEntry(e audit.Entry) audit.Entry {
	e.AccessedAttributes = slices.Clone(e.AccessedAttributes)
	if e.Purpose != nil {
		p := *e.Purpose
		e.Purpose = &p
	}
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
