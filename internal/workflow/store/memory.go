// Package store persists workflow cases.
//
// FindByID and Execute return sentinel.ErrNotFound for unknown ids.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"govconsent/internal/workflow/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	cases map[domain.CaseID]*models.Case
}

func NewInMemory() *InMemory {
	return &InMemory{cases: make(map[domain.CaseID]*models.Case)}
}

func (s *InMemory) Create(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrAlreadyUsed)
	}
	s.cases[c.ID] = cloneCase(c)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.CaseID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneCase(c), nil
}

func (s *InMemory) Execute(_ context.Context, id domain.CaseID, validate func(*models.Case) error, mutate func(*models.Case)) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	working := cloneCase(c)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.cases[id] = working
	return cloneCase(working), nil
}

func (s *InMemory) ListByCitizen(_ context.Context, citizenID domain.IdentityID) ([]*models.Case, error) {
	return s.list(func(c *models.Case) bool { return c.CitizenID == citizenID }), nil
}

func (s *InMemory) ListByService(_ context.Context, serviceID domain.IdentityID) ([]*models.Case, error) {
	return s.list(func(c *models.Case) bool { return c.ServiceID == serviceID }), nil
}

func (s *InMemory) ListAll(_ context.Context) ([]*models.Case, error) {
	return s.list(func(*models.Case) bool { return true }), nil
}

func (s *InMemory) list(match func(*models.Case) bool) []*models.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Case, 0)
	for _, c := range s.cases {
		if match(c) {
			out = append(out, cloneCase(c))
		}
	}
	slices.SortFunc(out, func(a, b *models.Case) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func cloneCase(c *models.Case) *models.Case {
	cp := *c
	cp.RequiredAttributes = slices.Clone(c.RequiredAttributes)
	return &cp
}
