package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govconsent/internal/audit"
	"govconsent/internal/citizendata/store"
	consentservice "govconsent/internal/consent/service"
	consentstore "govconsent/internal/consent/store"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/requestcontext"
	"govconsent/pkg/testutil"
)

type recordingPublisher struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (p *recordingPublisher) Emit(_ context.Context, entry audit.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

var (
	citizen  = domain.Actor{ID: "cit-1", Role: domain.RoleCitizen}
	provider = domain.Actor{ID: "svc-1", Role: domain.RoleServiceProvider}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

type fixture struct {
	svc       *Service
	consent   *consentservice.Service
	publisher *recordingPublisher
	ctx       context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	consent := consentservice.New(consentstore.NewInMemory(), consentservice.WithAuditPublisher(publisher))
	svc := New(store.NewInMemory(), consent)

	require.NoError(t, svc.PutRecord(ctx, citizen, citizen.ID, map[string]string{
		"health_id":   "H-77",
		"blood_group": "B+",
		"email":       "citizen@example.org",
	}))
	return fixture{svc: svc, consent: consent, publisher: publisher, ctx: ctx}
}

func (f fixture) grant(t *testing.T, attrs ...string) domain.GrantID {
	t.Helper()
	seven := 7
	g, err := f.consent.Request(f.ctx, provider, consentservice.RequestInput{
		OwnerID: citizen.ID, Purpose: "Checkup", Attributes: attrs,
	})
	require.NoError(t, err)
	_, err = f.consent.Approve(f.ctx, citizen, g.ID, &seven)
	require.NoError(t, err)
	return g.ID
}

func TestGetCitizenData(t *testing.T) {
	testutil.Given(t, "an approved grant for health_id and blood_group", func(t *testing.T) {
		f := newFixture(t)
		grantID := f.grant(t, "health_id", "blood_group")

		testutil.When(t, "the provider asks for more than was granted", func(t *testing.T) {
			got, err := f.svc.GetCitizenData(f.ctx, provider, citizen.ID, []string{"health_id", "blood_group", "email"})
			require.NoError(t, err)

			testutil.Then(t, "only the granted values are returned and the disclosure is audited", func(t *testing.T) {
				assert.Equal(t, []string{"health_id", "blood_group"}, got.Disclosed)
				assert.Equal(t, map[string]string{"health_id": "H-77", "blood_group": "B+"}, got.Attributes)
				assert.NotContains(t, got.Attributes, "email")

				last := f.publisher.entries[len(f.publisher.entries)-1]
				assert.Equal(t, audit.ActionDataAccess, last.Action)
				assert.Equal(t, []string{"health_id", "blood_group"}, last.AccessedAttributes)
			})
		})

		testutil.When(t, "the owner revokes and the provider asks again", func(t *testing.T) {
			_, err := f.consent.Revoke(f.ctx, citizen, grantID)
			require.NoError(t, err)

			_, err = f.svc.GetCitizenData(f.ctx, provider, citizen.ID, []string{"health_id", "blood_group", "email"})
			testutil.Then(t, "access is denied", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingConsent))
			})
		})
	})

	testutil.Given(t, "a grant for an attribute the owner never filled in", func(t *testing.T) {
		f := newFixture(t)
		f.grant(t, "allergies")

		got, err := f.svc.GetCitizenData(f.ctx, provider, citizen.ID, []string{"allergies"})
		require.NoError(t, err)
		assert.Equal(t, []string{"allergies"}, got.Disclosed)
		assert.Empty(t, got.Attributes)
	})

	testutil.Given(t, "an owner without any record", func(t *testing.T) {
		f := newFixture(t)
		got, err := f.svc.GetCitizenData(f.ctx, domain.Actor{ID: "cit-2", Role: domain.RoleCitizen}, "cit-2", []string{"email"})
		require.NoError(t, err)
		assert.NotNil(t, got.Attributes)
		assert.Empty(t, got.Attributes)
	})

	testutil.Given(t, "no fields requested", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GetCitizenData(f.ctx, provider, citizen.ID, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestPutRecord(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown attributes are all reported", func(t *testing.T) {
		err := f.svc.PutRecord(f.ctx, citizen, citizen.ID, map[string]string{"email": "x", "shoe_size": "44", "pet": "cat"})
		de, ok := dErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, dErrors.CodeValidation, de.Code)
		assert.Equal(t, []string{"pet", "shoe_size"}, de.Details)
	})

	t.Run("others cannot write", func(t *testing.T) {
		err := f.svc.PutRecord(f.ctx, provider, citizen.ID, map[string]string{"email": "spoof@example.org"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("admin may write", func(t *testing.T) {
		require.NoError(t, f.svc.PutRecord(f.ctx, admin, citizen.ID, map[string]string{"phone": " 555-0100 "}))
		got, err := f.svc.GetCitizenData(f.ctx, citizen, citizen.ID, []string{"phone"})
		require.NoError(t, err)
		assert.Equal(t, "555-0100", got.Attributes["phone"])
	})
}
