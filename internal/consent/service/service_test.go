package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"govconsent/internal/audit"
	"govconsent/internal/audit/publisher"
	auditmemory "govconsent/internal/audit/store/memory"
	"govconsent/internal/consent/models"
	"govconsent/internal/consent/store"
	identitymodels "govconsent/internal/identity/models"
	identitystore "govconsent/internal/identity/store"
	"govconsent/internal/platform/memtx"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/requestcontext"
)

type recordingPublisher struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (p *recordingPublisher) Emit(_ context.Context, entry audit.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return p.err
}

func (p *recordingPublisher) last() audit.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[len(p.entries)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

var (
	owner      = domain.Actor{ID: "cit-1", Role: domain.RoleCitizen}
	otherOwner = domain.Actor{ID: "cit-2", Role: domain.RoleCitizen}
	requester  = domain.Actor{ID: "svc-1", Role: domain.RoleServiceProvider}
	otherReq   = domain.Actor{ID: "svc-2", Role: domain.RoleServiceProvider}
	govActor   = domain.Actor{ID: "gov-1", Role: domain.RoleGovernment}
)

type ConsentServiceSuite struct {
	suite.Suite
	svc       *Service
	store     *store.InMemory
	publisher *recordingPublisher
	now       time.Time
	ctx       context.Context
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	identities := identitystore.NewInMemory()
	for _, a := range []domain.Actor{owner, otherOwner, requester, otherReq, govActor} {
		identity, err := identitymodels.NewIdentity(a.ID, a.Role, identitymodels.StatusActive, s.now)
		s.Require().NoError(err)
		s.Require().NoError(identities.Create(s.ctx, identity))
	}

	s.store = store.NewInMemory()
	s.publisher = &recordingPublisher{}
	s.svc = New(s.store,
		WithIdentities(identities),
		WithAuditPublisher(s.publisher),
		WithTx(memtx.NewSharded()),
	)
}

func (s *ConsentServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func days(n int) *int { return &n }


func (s *ConsentServiceSuite) requestGrant(req domain.Actor, attrs ...string) *models.Grant {
	g, err := s.svc.Request(s.ctx, req, RequestInput{
		OwnerID:    owner.ID,
		Purpose:    "Checkup",
		Attributes: attrs,
	})
	s.Require().NoError(err)
	return g
}

func (s *ConsentServiceSuite) TestRequest() {
	s.Run("creates a pending grant and audits the request", func() {
		g, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID:      owner.ID,
			Purpose:      "Checkup",
			Attributes:   []string{"health_id", "blood_group"},
			DurationDays: days(7),
		})
		s.Require().NoError(err)
		s.Equal(models.StatusPending, g.Status)
		s.Nil(g.ValidFrom)
		s.Nil(g.ValidUntil)

		entry := s.publisher.last()
		s.Equal(audit.ActionConsentRequest, entry.Action)
		s.Equal(requester.ID, entry.ActorID)
		s.Equal(owner.ID, entry.TargetID)
		s.Equal([]string{"health_id", "blood_group"}, entry.AccessedAttributes)
		s.Require().NotNil(entry.Purpose)
		s.Equal("Checkup", *entry.Purpose)
	})

	s.Run("wildcard is rejected and nothing is stored", func() {
		before := s.publisher.count()
		_, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"*"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "wildcard not allowed")
		s.Equal(before, s.publisher.count())

		sent, _ := s.svc.ListSent(s.ctx, otherReq)
		s.Empty(sent)
	})

	s.Run("every unknown attribute is reported", func() {
		_, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email", "shoe_size", "iris_scan"},
		})
		de, ok := dErrors.As(err)
		s.Require().True(ok)
		s.Equal(dErrors.CodeValidation, de.Code)
		s.ElementsMatch([]string{"shoe_size", "iris_scan"}, de.Details)
	})

	s.Run("citizens cannot request", func() {
		_, err := s.svc.Request(s.ctx, otherOwner, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("purpose too short", func() {
		_, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: " ab ", Attributes: []string{"email"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing owner", func() {
		_, err := s.svc.Request(s.ctx, requester, RequestInput{
			Purpose: "Checkup", Attributes: []string{"email"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("owner must exist and be a citizen", func() {
		_, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: "ghost", Purpose: "Checkup", Attributes: []string{"email"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: govActor.ID, Purpose: "Checkup", Attributes: []string{"email"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("out of range requested duration", func() {
		before := s.publisher.count()
		existing, err := s.store.ListByRequester(s.ctx, requester.ID)
		s.Require().NoError(err)

		_, err = s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email"}, DurationDays: days(1 << 40),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(before, s.publisher.count())

		grants, err := s.store.ListByRequester(s.ctx, requester.ID)
		s.Require().NoError(err)
		s.Len(grants, len(existing))
	})

	s.Run("unauthenticated", func() {
		_, err := s.svc.Request(s.ctx, domain.Actor{}, RequestInput{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ConsentServiceSuite) TestApprove() {
	s.Run("window is approval time plus duration", func() {
		for _, d := range []int{7, 0, -1} {
			g := s.requestGrant(requester, "email")
			approved, err := s.svc.Approve(s.at(time.Hour), owner, g.ID, days(d))
			s.Require().NoError(err)
			s.Equal(models.StatusActive, approved.Status)
			s.Equal(s.now.Add(time.Hour), *approved.ValidFrom)
			s.Equal(approved.ValidFrom.AddDate(0, 0, d), *approved.ValidUntil, "days=%d", d)
		}
	})

	s.Run("falls back to the requested duration, then the default", func() {
		g, err := s.svc.Request(s.ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email"}, DurationDays: days(3),
		})
		s.Require().NoError(err)
		approved, err := s.svc.Approve(s.ctx, owner, g.ID, nil)
		s.Require().NoError(err)
		s.Equal(s.now.AddDate(0, 0, 3), *approved.ValidUntil)

		g = s.requestGrant(requester, "email")
		approved, err = s.svc.Approve(s.ctx, owner, g.ID, nil)
		s.Require().NoError(err)
		s.Equal(s.now.AddDate(0, 0, DefaultDurationDays), *approved.ValidUntil)
	})

	s.Run("out of range durations are rejected without changing the grant", func() {
		for _, d := range []int{MaxDurationDays + 1, -MaxDurationDays - 1, 1 << 40, 4294967303, 1 << 62} {
			g := s.requestGrant(requester, "email")
			before := s.publisher.count()

			_, err := s.svc.Approve(s.ctx, owner, g.ID, days(d))
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "days=%d", d)

			stored, err := s.store.FindByID(s.ctx, g.ID)
			s.Require().NoError(err)
			s.Equal(models.StatusPending, stored.Status)
			s.Equal(before, s.publisher.count())
		}
	})

	s.Run("bounds are inclusive", func() {
		for _, d := range []int{MaxDurationDays, -MaxDurationDays} {
			g := s.requestGrant(requester, "email")
			approved, err := s.svc.Approve(s.ctx, owner, g.ID, days(d))
			s.Require().NoError(err)
			s.Equal(approved.ValidFrom.AddDate(0, 0, d), *approved.ValidUntil, "days=%d", d)
		}
	})

	s.Run("audits the approval against the owner", func() {
		g := s.requestGrant(requester, "email")
		_, err := s.svc.Approve(s.ctx, owner, g.ID, days(7))
		s.Require().NoError(err)

		entry := s.publisher.last()
		s.Equal(audit.ActionConsentApproved, entry.Action)
		s.Equal(owner.ID, entry.ActorID)
		s.Equal(owner.ID, entry.TargetID)
		s.Equal(g.ID.String(), entry.Metadata["grant_id"])
		s.Equal(requester.ID.String(), entry.Metadata["requester_id"])
	})

	s.Run("non-owner is forbidden and grant stays pending", func() {
		g := s.requestGrant(requester, "email")
		_, err := s.svc.Approve(s.ctx, otherOwner, g.ID, days(7))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		stored, _ := s.store.FindByID(s.ctx, g.ID)
		s.Equal(models.StatusPending, stored.Status)
	})

	s.Run("unknown grant", func() {
		_, err := s.svc.Approve(s.ctx, owner, domain.NewGrantID(), nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("revoked grant cannot be re-approved", func() {
		g := s.requestGrant(requester, "email")
		_, err := s.svc.Revoke(s.ctx, owner, g.ID)
		s.Require().NoError(err)
		_, err = s.svc.Approve(s.ctx, owner, g.ID, days(7))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ConsentServiceSuite) TestRevoke() {
	s.Run("idempotent on pending and revoked grants", func() {
		g := s.requestGrant(requester, "email")
		first, err := s.svc.Revoke(s.ctx, owner, g.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, first.Status)

		second, err := s.svc.Revoke(s.ctx, owner, g.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, second.Status)
		s.Equal(audit.ActionConsentRevoked, s.publisher.last().Action)
		s.Equal("revoked", s.publisher.last().Metadata["previous_status"])
	})

	s.Run("non-owner is forbidden", func() {
		g := s.requestGrant(requester, "email")
		_, err := s.svc.Revoke(s.ctx, requester, g.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("revoking one requester's grant leaves another's untouched", func() {
		a := s.requestGrant(requester, "email")
		b := s.requestGrant(otherReq, "email")
		_, err := s.svc.Approve(s.ctx, owner, a.ID, days(7))
		s.Require().NoError(err)
		_, err = s.svc.Approve(s.ctx, owner, b.ID, days(7))
		s.Require().NoError(err)

		_, err = s.svc.Revoke(s.ctx, owner, a.ID)
		s.Require().NoError(err)

		stored, _ := s.store.FindByID(s.ctx, b.ID)
		s.Equal(models.StatusActive, stored.Status)
		_, err = s.svc.CheckAccess(s.ctx, otherReq, owner.ID, []string{"email"})
		s.NoError(err)
	})
}

func (s *ConsentServiceSuite) TestAuditTimestampsFollowRequestTime() {
	trail := auditmemory.NewInMemoryStore()
	svc := New(s.store,
		WithIdentities(s.svc.identities),
		WithAuditPublisher(publisher.NewPublisher(trail)),
	)

	g, err := svc.Request(s.at(0), requester, RequestInput{
		OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email"},
	})
	s.Require().NoError(err)
	_, err = svc.Approve(s.at(time.Minute), owner, g.ID, days(7))
	s.Require().NoError(err)
	_, err = svc.CheckAccess(s.at(2*time.Minute), requester, owner.ID, []string{"email"})
	s.Require().NoError(err)
	_, err = svc.Revoke(s.at(3*time.Minute), owner, g.ID)
	s.Require().NoError(err)

	entries, err := trail.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)

	// ListAll is newest first; walk oldest first.
	want := []struct {
		action audit.Action
		offset time.Duration
	}{
		{audit.ActionConsentRequest, 0},
		{audit.ActionConsentApproved, time.Minute},
		{audit.ActionDataAccess, 2 * time.Minute},
		{audit.ActionConsentRevoked, 3 * time.Minute},
	}
	type pair struct{ actor, target domain.IdentityID }
	latest := map[pair]time.Time{}
	for i, w := range want {
		e := entries[len(entries)-1-i]
		s.Equal(w.action, e.Action)
		s.True(e.Timestamp.Equal(s.now.Add(w.offset)), "%s stamped %s", e.Action, e.Timestamp)

		key := pair{e.ActorID, e.TargetID}
		if prev, ok := latest[key]; ok {
			s.False(e.Timestamp.Before(prev), "%s went back in time for %v", e.Action, key)
		}
		latest[key] = e.Timestamp
	}
	s.Len(latest, 2)
}

// Walks scenarios 1 through 4 of the consent lifecycle end to end.
func (s *ConsentServiceSuite) TestLifecycleScenario() {
	g, err := s.svc.Request(s.ctx, requester, RequestInput{
		OwnerID:      owner.ID,
		Purpose:      "Checkup",
		Attributes:   []string{"health_id", "blood_group"},
		DurationDays: days(7),
	})
	s.Require().NoError(err)

	approved, err := s.svc.Approve(s.ctx, owner, g.ID, days(7))
	s.Require().NoError(err)
	s.Equal(s.now.Add(7*24*time.Hour), *approved.ValidUntil)

	allowed, err := s.svc.CheckAccess(s.at(time.Minute), requester, owner.ID,
		[]string{"health_id", "blood_group", "email"})
	s.Require().NoError(err)
	s.Equal([]string{"health_id", "blood_group"}, allowed)

	entry := s.publisher.last()
	s.Equal(audit.ActionDataAccess, entry.Action)
	s.Equal([]string{"health_id", "blood_group"}, entry.AccessedAttributes)
	s.Equal(requester.ID, entry.ActorID)
	s.Equal(owner.ID, entry.TargetID)

	_, err = s.svc.Revoke(s.at(2*time.Minute), owner, g.ID)
	s.Require().NoError(err)

	_, err = s.svc.CheckAccess(s.at(3*time.Minute), requester, owner.ID,
		[]string{"health_id", "blood_group", "email"})
	s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
}

func (s *ConsentServiceSuite) TestCheckAccess() {
	s.Run("instant expiry denies without touching stored status", func() {
		g := s.requestGrant(requester, "email")
		_, err := s.svc.Approve(s.ctx, owner, g.ID, days(-1))
		s.Require().NoError(err)

		before := s.publisher.count()
		_, err = s.svc.CheckAccess(s.ctx, requester, owner.ID, []string{"email"})
		s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
		s.Equal(before, s.publisher.count(), "denied checks are not audited")

		stored, _ := s.store.FindByID(s.ctx, g.ID)
		s.Equal(models.StatusActive, stored.Status)
	})

	s.Run("window closes exactly at valid_until", func() {
		g := s.requestGrant(otherReq, "phone")
		_, err := s.svc.Approve(s.ctx, owner, g.ID, days(1))
		s.Require().NoError(err)

		_, err = s.svc.CheckAccess(s.at(24*time.Hour-time.Second), otherReq, owner.ID, []string{"phone"})
		s.NoError(err)
		_, err = s.svc.CheckAccess(s.at(24*time.Hour), otherReq, owner.ID, []string{"phone"})
		s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
	})

	s.Run("empty intersection is indistinguishable from no grant", func() {
		g := s.requestGrant(requester, "address")
		_, err := s.svc.Approve(s.ctx, owner, g.ID, days(7))
		s.Require().NoError(err)

		_, errNoOverlap := s.svc.CheckAccess(s.ctx, requester, owner.ID, []string{"tax_id"})
		_, errNoGrant := s.svc.CheckAccess(s.ctx, govActor, owner.ID, []string{"tax_id"})

		s.True(dErrors.HasCode(errNoOverlap, dErrors.CodeMissingConsent))
		s.Equal(errNoGrant.Error(), errNoOverlap.Error())
	})

	s.Run("unknown requested fields are ignored", func() {
		allowed, err := s.svc.CheckAccess(s.ctx, requester, owner.ID, []string{"address", "favourite_colour"})
		s.Require().NoError(err)
		s.Equal([]string{"address"}, allowed)
	})

	s.Run("owner reads own record", func() {
		allowed, err := s.svc.CheckAccess(s.ctx, owner, owner.ID, []string{"email", "bogus", "email"})
		s.Require().NoError(err)
		s.Equal([]string{"email"}, allowed)
		s.Equal(true, s.publisher.last().Metadata["self_access"])
	})

	s.Run("audit failure does not fail the check", func() {
		s.publisher.err = errors.New("audit store down")
		defer func() { s.publisher.err = nil }()

		allowed, err := s.svc.CheckAccess(s.ctx, requester, owner.ID, []string{"address"})
		s.Require().NoError(err)
		s.Equal([]string{"address"}, allowed)
	})
}

func (s *ConsentServiceSuite) TestRequireCoverage() {
	g := s.requestGrant(requester, "email", "phone")
	_, err := s.svc.Approve(s.ctx, owner, g.ID, days(7))
	s.Require().NoError(err)

	_, err = s.svc.RequireCoverage(s.ctx, owner.ID, requester.ID, []string{"email", "phone"})
	s.NoError(err)

	_, err = s.svc.RequireCoverage(s.ctx, owner.ID, requester.ID, []string{"email", "address"})
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientConsent), "partial overlap is not enough")

	_, err = s.svc.RequireCoverage(s.ctx, owner.ID, otherReq.ID, []string{"email"})
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientConsent))
}

func (s *ConsentServiceSuite) TestListings() {
	pending := s.requestGrant(requester, "email")
	active := s.requestGrant(otherReq, "phone")
	expired := s.requestGrant(requester, "address")
	_, err := s.svc.Approve(s.ctx, owner, active.ID, days(7))
	s.Require().NoError(err)
	_, err = s.svc.Approve(s.ctx, owner, expired.ID, days(-1))
	s.Require().NoError(err)
	before := s.publisher.count()

	list, err := s.svc.ListPending(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(pending.ID, list[0].ID)

	list, err = s.svc.ListActive(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(active.ID, list[0].ID)

	list, err = s.svc.ListSent(s.ctx, requester)
	s.Require().NoError(err)
	s.Len(list, 2)

	s.Equal(before, s.publisher.count(), "projections are not audited")
}

// Races approve against revoke: whichever order the two calls land in, the
// grant must end unusable because revoke is unconditional and approve
// requires pending.
func TestConcurrentApproveRevoke(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	svc := New(st, WithTx(memtx.NewSharded()))

	for range 100 {
		g, err := svc.Request(ctx, requester, RequestInput{
			OwnerID: owner.ID, Purpose: "Checkup", Attributes: []string{"email"},
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Approve(ctx, owner, g.ID, days(7))
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Revoke(ctx, owner, g.ID)
		}()
		wg.Wait()

		stored, err := st.FindByID(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevoked, stored.Status)
		_, err = svc.CheckAccess(ctx, requester, owner.ID, []string{"email"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingConsent))
	}
}
