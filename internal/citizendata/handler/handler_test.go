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

	"govconsent/internal/citizendata/service"
	"govconsent/internal/citizendata/store"
	consentservice "govconsent/internal/consent/service"
	consentstore "govconsent/internal/consent/store"
	"govconsent/pkg/domain"
	"govconsent/pkg/testutil"
)

func newRouter(t *testing.T) (http.Handler, *consentservice.Service) {
	t.Helper()
	consent := consentservice.New(consentstore.NewInMemory())
	h := New(service.New(store.NewInMemory(), consent), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	return r, consent
}

func TestCitizenDataRoutes(t *testing.T) {
	router, consent := newRouter(t)
	ctx := context.Background()

	t.Run("citizen stores own record", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPut, "/citizens/me/data", map[string]any{
			"attributes": map[string]string{"email": "c@example.org", "tax_id": "T-9"},
		})
		rr := testutil.DoRequest(router, testutil.WithActor(req, "cit-1", domain.RoleCitizen))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("provider without consent is denied", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/citizens/cit-1/data", map[string]any{
			"fields": []string{"email"},
		})
		rr := testutil.DoRequest(router, testutil.WithActor(req, "svc-1", domain.RoleServiceProvider))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "no_consent")
	})

	t.Run("provider with consent sees the intersection", func(t *testing.T) {
		provider := domain.Actor{ID: "svc-1", Role: domain.RoleServiceProvider}
		g, err := consent.Request(ctx, provider, consentservice.RequestInput{
			OwnerID: "cit-1", Purpose: "Tax filing", Attributes: []string{"tax_id"},
		})
		require.NoError(t, err)
		_, err = consent.Approve(ctx, domain.Actor{ID: "cit-1", Role: domain.RoleCitizen}, g.ID, nil)
		require.NoError(t, err)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/citizens/cit-1/data", map[string]any{
			"fields": []string{"email", "tax_id"},
		})
		rr := testutil.DoRequest(router, testutil.WithActor(req, "svc-1", domain.RoleServiceProvider))

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[service.Disclosure](t, rr)
		assert.Equal(t, []string{"tax_id"}, resp.Disclosed)
		assert.Equal(t, map[string]string{"tax_id": "T-9"}, resp.Attributes)
	})

	t.Run("provider cannot write someone else's record", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPut, "/citizens/cit-1/data", map[string]any{
			"attributes": map[string]string{"email": "x@example.org"},
		})
		rr := testutil.DoRequest(router, testutil.WithActor(req, "svc-1", domain.RoleServiceProvider))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})
}
