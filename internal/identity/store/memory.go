// Package store persists identities.
//
// Error contract: FindByID and Execute return sentinel.ErrNotFound for unknown
// ids; Create returns sentinel.ErrAlreadyUsed for duplicates. Validation
// errors from Execute callbacks are returned unchanged.
package store

import (
	"context"
	"fmt"
	"sync"

	"govconsent/internal/identity/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
)

type InMemory struct {
	mu         sync.RWMutex
	identities map[domain.IdentityID]*models.Identity
}

func NewInMemory() *InMemory {
	return &InMemory{identities: make(map[domain.IdentityID]*models.Identity)}
}

func (s *InMemory) Create(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[identity.ID]; exists {
		return fmt.Errorf("identity %s: %w", identity.ID, sentinel.ErrAlreadyUsed)
	}
	copied := *identity
	s.identities[identity.ID] = &copied
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, sentinel.ErrNotFound)
	}
	copied := *identity
	return &copied, nil
}

// Execute validates and mutates one identity under the store lock.
func (s *InMemory) Execute(_ context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, sentinel.ErrNotFound)
	}
	working := *identity
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)
	s.identities[id] = &working
	result := working
	return &result, nil
}
