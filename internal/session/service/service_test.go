package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govconsent/internal/audit"
	identitymodels "govconsent/internal/identity/models"
	identityservice "govconsent/internal/identity/service"
	identitystore "govconsent/internal/identity/store"
	"govconsent/internal/session/store"
	"govconsent/internal/session/token"
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

type failingRevocations struct{}

func (failingRevocations) RevokeToken(context.Context, string, time.Duration) error {
	return errors.New("redis: connection refused")
}

type fixture struct {
	svc         *Service
	tokens      *token.Service
	revocations *store.InMemory
	publisher   *recordingPublisher
	ctx         context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := requestcontext.WithTime(context.Background(), time.Now())
	identities := identitystore.NewInMemory()
	for id, status := range map[domain.IdentityID]identitymodels.Status{
		"cit-1": identitymodels.StatusActive,
		"cit-2": identitymodels.StatusSuspended,
	} {
		identity, err := identitymodels.NewIdentity(id, domain.RoleCitizen, status, time.Now())
		require.NoError(t, err)
		require.NoError(t, identities.Create(ctx, identity))
	}

	f := &fixture{
		tokens:      token.New("k", "govconsent", "govconsent-api"),
		revocations: store.NewInMemory(),
		publisher:   &recordingPublisher{},
		ctx:         ctx,
	}
	f.svc = New(f.tokens, f.revocations, identityservice.New(identities),
		WithAuditPublisher(f.publisher),
		WithTTL(30*time.Minute),
	)
	return f
}

func TestIssue(t *testing.T) {
	testutil.Given(t, "an active citizen", func(t *testing.T) {
		f := newFixture(t)
		ctx := requestcontext.WithClientMetadata(f.ctx, "10.0.0.7",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")

		testutil.When(t, "a session is issued", func(t *testing.T) {
			session, err := f.svc.Issue(ctx, "cit-1")
			require.NoError(t, err)

			testutil.Then(t, "the token carries the stored role", func(t *testing.T) {
				claims, err := f.tokens.Validate(session.AccessToken)
				require.NoError(t, err)
				assert.Equal(t, "cit-1", claims.Subject)
				assert.Equal(t, "citizen", claims.Role)
				assert.Equal(t, domain.RoleCitizen, session.Role)
				assert.Equal(t, "Bearer", session.TokenType)
			})

			testutil.Then(t, "a LOGIN entry records the client", func(t *testing.T) {
				require.Len(t, f.publisher.entries, 1)
				entry := f.publisher.entries[0]
				assert.Equal(t, audit.ActionLogin, entry.Action)
				assert.Equal(t, domain.IdentityID("cit-1"), entry.TargetID)
				assert.Equal(t, "10.0.0.7", entry.Metadata["client_ip"])
				assert.Contains(t, entry.Metadata["device"], "Firefox")
				assert.NotEmpty(t, entry.Metadata["token_id"])
			})
		})
	})

	testutil.Given(t, "an identity that may not authenticate", func(t *testing.T) {
		f := newFixture(t)
		for _, id := range []domain.IdentityID{"cit-2", "ghost"} {
			_, err := f.svc.Issue(f.ctx, id)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), string(id))
		}
		assert.Empty(t, f.publisher.entries)
	})
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	actor := domain.Actor{ID: "cit-1", Role: domain.RoleCitizen}

	t.Run("revokes the token and audits", func(t *testing.T) {
		require.NoError(t, f.svc.Logout(f.ctx, actor, "jti-1"))
		revoked, err := f.revocations.IsRevoked(f.ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)
		assert.Equal(t, audit.ActionLogout, f.publisher.entries[len(f.publisher.entries)-1].Action)
	})

	t.Run("requires an authenticated token", func(t *testing.T) {
		err := f.svc.Logout(f.ctx, domain.Actor{}, "jti-2")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		err = f.svc.Logout(f.ctx, actor, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("store failure is internal and not audited", func(t *testing.T) {
		f := newFixture(t)
		svc := New(f.tokens, failingRevocations{}, nil, WithAuditPublisher(f.publisher))
		err := svc.Logout(f.ctx, actor, "jti-3")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
		assert.Empty(t, f.publisher.entries)
	})
}
