package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govconsent/internal/audit"
	"govconsent/internal/audit/store/memory"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/requestcontext"
	"govconsent/pkg/testutil"
)

type brokenStore struct{}

func (brokenStore) ListByActor(context.Context, domain.IdentityID) ([]audit.Entry, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) ListByTarget(context.Context, domain.IdentityID) ([]audit.Entry, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) ListAll(context.Context) ([]audit.Entry, error) {
	return nil, errors.New("connection refused")
}

func seededService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewInMemoryStore()
	now := time.Now()
	for i, e := range []audit.Entry{
		{ActorID: "svc-1", ActorRole: domain.RoleServiceProvider, TargetID: "cit-1", Action: audit.ActionConsentRequest},
		{ActorID: "cit-1", ActorRole: domain.RoleCitizen, TargetID: "cit-1", Action: audit.ActionConsentApproved},
		{ActorID: "svc-1", ActorRole: domain.RoleServiceProvider, TargetID: "cit-1", Action: audit.ActionDataAccess},
		{ActorID: "svc-1", ActorRole: domain.RoleServiceProvider, TargetID: "cit-2", Action: audit.ActionConsentRequest},
	} {
		e.ID = domain.NewAuditEntryID()
		e.Timestamp = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Append(context.Background(), e))
	}
	return New(store)
}

func TestAuditQueries(t *testing.T) {
	ctx := context.Background()

	testutil.Given(t, "a trail covering two owners", func(t *testing.T) {
		svc := seededService(t)

		testutil.When(t, "the owner reads their access log", func(t *testing.T) {
			entries, err := svc.MyDataAccessLog(ctx, "cit-1")
			require.NoError(t, err)

			testutil.Then(t, "only entries targeting them are returned", func(t *testing.T) {
				assert.Len(t, entries, 3)
				for _, e := range entries {
					assert.Equal(t, domain.IdentityID("cit-1"), e.TargetID)
				}
			})
		})

		testutil.When(t, "the requester reads their actions log", func(t *testing.T) {
			entries, err := svc.MyActionsLog(ctx, "svc-1")
			require.NoError(t, err)

			testutil.Then(t, "only entries they performed are returned", func(t *testing.T) {
				assert.Len(t, entries, 3)
			})
		})

		testutil.When(t, "a regulator reads the whole log", func(t *testing.T) {
			entries, err := svc.AllAuditLogs(ctx, domain.RoleRegulatoryAuthority)
			require.NoError(t, err)

			testutil.Then(t, "every entry is visible without jurisdiction filtering", func(t *testing.T) {
				assert.Len(t, entries, 4)
			})
		})

		testutil.When(t, "a service provider asks for the whole log", func(t *testing.T) {
			_, err := svc.AllAuditLogs(ctx, domain.RoleServiceProvider)

			testutil.Then(t, "it is forbidden", func(t *testing.T) {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
			})
		})
	})
}

func TestAuditQueriesRequireIdentity(t *testing.T) {
	svc := New(memory.NewInMemoryStore())
	_, err := svc.MyDataAccessLog(context.Background(), "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = svc.MyActionsLog(context.Background(), "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestAuditQueriesHideStoreErrors(t *testing.T) {
	svc := New(brokenStore{})
	_, err := svc.MyDataAccessLog(context.Background(), "cit-1")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	_, err = svc.AllAuditLogs(context.Background(), domain.RoleAdmin)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestAuditQueriesLogStoreErrors(t *testing.T) {
	var buf bytes.Buffer
	svc := New(brokenStore{}, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	ctx := requestcontext.WithRequestID(context.Background(), "req-42")

	_, err := svc.MyDataAccessLog(ctx, "cit-1")
	require.Error(t, err)
	_, err = svc.MyActionsLog(ctx, "svc-1")
	require.Error(t, err)
	_, err = svc.AllAuditLogs(ctx, domain.RoleAdmin)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"data access log query failed"`)
	assert.Contains(t, out, `"msg":"actions log query failed"`)
	assert.Contains(t, out, `"msg":"audit trail query failed"`)
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, `"request_id":"req-42"`)
}
