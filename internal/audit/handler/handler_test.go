package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govconsent/internal/audit"
	"govconsent/internal/audit/service"
	"govconsent/internal/audit/store/memory"
	"govconsent/pkg/domain"
	"govconsent/pkg/testutil"
)

func newAuditRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Entry{
		ID: domain.NewAuditEntryID(), ActorID: "svc-1", ActorRole: domain.RoleServiceProvider,
		TargetID: "cit-1", Action: audit.ActionDataAccess, AccessedAttributes: []string{"email"},
	}))
	require.NoError(t, store.Append(ctx, audit.Entry{
		ID: domain.NewAuditEntryID(), ActorID: "svc-1", ActorRole: domain.RoleServiceProvider,
		TargetID: "cit-2", Action: audit.ActionConsentRequest,
	}))

	h := New(service.New(store), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestAuditRoutes(t *testing.T) {
	router := newAuditRouter(t)

	t.Run("owner sees disclosures about them", func(t *testing.T) {
		req := testutil.WithActor(testutil.NewRequest(t, http.MethodGet, "/audit/me/access"), "cit-1", domain.RoleCitizen)
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[entriesResponse](t, rr)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, []string{"email"}, resp.Entries[0].AccessedAttributes)
	})

	t.Run("actor sees own actions", func(t *testing.T) {
		req := testutil.WithActor(testutil.NewRequest(t, http.MethodGet, "/audit/me/actions"), "svc-1", domain.RoleServiceProvider)
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[entriesResponse](t, rr)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("citizen cannot read whole log", func(t *testing.T) {
		req := testutil.WithActor(testutil.NewRequest(t, http.MethodGet, "/audit"), "cit-1", domain.RoleCitizen)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	t.Run("government reads whole log", func(t *testing.T) {
		req := testutil.WithActor(testutil.NewRequest(t, http.MethodGet, "/audit"), "gov-1", domain.RoleGovernment)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[entriesResponse](t, rr)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/audit/me/access"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}
