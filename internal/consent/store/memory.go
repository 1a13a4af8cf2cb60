// Package store persists consent grants.
//
// Error contract: FindByID, Execute and FindValid return sentinel.ErrNotFound
// when nothing matches. Errors from Execute's validate callback are returned
// unchanged and leave the grant untouched.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"govconsent/internal/consent/models"
	"govconsent/pkg/domain"
	"govconsent/pkg/platform/sentinel"
)

type InMemory struct {
	mu     sync.RWMutex
	grants map[domain.GrantID]*models.Grant
}

func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[domain.GrantID]*models.Grant)}
}

func (s *InMemory) Create(_ context.Context, grant *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[grant.ID]; exists {
		return fmt.Errorf("grant %s: %w", grant.ID, sentinel.ErrAlreadyUsed)
	}
	s.grants[grant.ID] = cloneGrant(grant)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.GrantID) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneGrant(grant), nil
}

// Execute runs validate and mutate on a working copy under the write lock and
// stores the copy only when validate succeeds.
func (s *InMemory) Execute(_ context.Context, id domain.GrantID, validate func(*models.Grant) error, mutate func(*models.Grant)) (*models.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	working := cloneGrant(grant)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.grants[id] = working
	return cloneGrant(working), nil
}

// ListByOwner returns the owner's grants in the given status, newest first.
func (s *InMemory) ListByOwner(_ context.Context, ownerID domain.IdentityID, status models.Status) ([]*models.Grant, error) {
	return s.list(func(g *models.Grant) bool {
		return g.OwnerID == ownerID && g.Status == status
	}), nil
}

// ListByRequester returns every grant the requester asked for, newest first.
func (s *InMemory) ListByRequester(_ context.Context, requesterID domain.IdentityID) ([]*models.Grant, error) {
	return s.list(func(g *models.Grant) bool {
		return g.RequesterID == requesterID
	}), nil
}

// FindValid returns the grant from owner to requester that is valid at now.
// When several qualify, the most recently approved wins.
func (s *InMemory) FindValid(_ context.Context, ownerID, requesterID domain.IdentityID, now time.Time) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Grant
	for _, g := range s.grants {
		if g.OwnerID != ownerID || g.RequesterID != requesterID || !g.IsValidAt(now) {
			continue
		}
		if best == nil || g.ValidFrom.After(*best.ValidFrom) {
			best = g
		}
	}
	if best == nil {
		return nil, fmt.Errorf("valid grant: %w", sentinel.ErrNotFound)
	}
	return cloneGrant(best), nil
}

func (s *InMemory) list(match func(*models.Grant) bool) []*models.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Grant, 0)
	for _, g := range s.grants {
		if match(g) {
			out = append(out, cloneGrant(g))
		}
	}
	slices.SortFunc(out, func(a, b *models.Grant) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func cloneGrant(g *models.Grant) *models.Grant {
	c := *g
	c.Attributes = slices.Clone(g.Attributes)
	if g.ValidFrom != nil {
		t := *g.ValidFrom
		c.ValidFrom = &t
	}
	if g.ValidUntil != nil {
		t := *g.ValidUntil
		c.ValidUntil = &t
	}
	if g.RequestedDurationDays != nil {
		d := *g.RequestedDurationDays
		c.RequestedDurationDays = &d
	}
	return &c
}
