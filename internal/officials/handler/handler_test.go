package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic/internal/officials/access"
	"civic/internal/officials/models"
	"civic/internal/officials/store"
	id "civic/pkg/domain"
	"civic/pkg/testutil"
)

func newRouter(t *testing.T) (http.Handler, *store.InMemory, *models.OfficialProfile) {
	t.Helper()
	profiles := store.NewInMemory()
	p, err := models.NewOfficialProfile(id.NewOfficialID(), "Ada Moreno", time.Now())
	require.NoError(t, err)
	require.NoError(t, profiles.Save(context.Background(), p))

	h := New(access.New(profiles), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterOfficial(r)
	h.RegisterPublic(r)
	return r, profiles, p
}

func TestAccessFollowsVerificationStatus(t *testing.T) {
	router, profiles, p := newRouter(t)

	rr := testutil.DoRequest(router, testutil.WithOfficial(
		testutil.NewJSONRequest(t, http.MethodGet, "/officials/me/access", nil), p.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, access.LevelOnboarding, testutil.UnmarshalResponse[access.Decision](t, rr).Level)

	_, err := p.ApplyStatus(models.StatusVerified, id.MethodGovernmentEmail, time.Now())
	require.NoError(t, err)
	require.NoError(t, profiles.UpdateVerification(context.Background(), p))

	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/officials/"+p.ID.String()+"/visibility", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, testutil.UnmarshalResponse[visibilityResponse](t, rr).PubliclyVisible)
}

func TestAccessRequiresOfficial(t *testing.T) {
	router, _, _ := newRouter(t)
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/officials/me/access", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestVisibilityUnknownOfficial(t *testing.T) {
	router, _, _ := newRouter(t)
	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/officials/"+id.NewOfficialID().String()+"/visibility", nil))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
}
