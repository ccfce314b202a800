package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tripauth"
)

type fakeAuthenticator struct {
	identities map[string]*tripauth.Identity
	err        error
	gotAud     tripauth.Audience
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, aud tripauth.Audience, token string) (*tripauth.Identity, error) {
	f.gotAud = aud
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.identities[token]
	if !ok {
		return nil, tripauth.ErrTokenExpiredOrInvalid
	}
	return id, nil
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.PrincipalID))
	})
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestGuard(t *testing.T) {
	auth := &fakeAuthenticator{identities: map[string]*tripauth.Identity{
		"good": {PrincipalID: "u-1", Audience: tripauth.AudienceEndUser},
	}}
	h := Guard(auth, tripauth.AudienceEndUser)(okHandler(t))

	rec := serve(h, "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
	assert.Equal(t, tripauth.AudienceEndUser, auth.gotAud)

	rec = serve(h, "bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, authz := range []string{"", "Basic Zm9vOmJhcg==", "Bearer ", "Bearer bad"} {
		rec := serve(h, authz)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "authorization %q", authz)
		assert.Equal(t, "unauthorized", errorCode(t, rec))
	}
}

func TestGuardMapsEngineErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{tripauth.ErrAccountInactive, http.StatusForbidden},
		{tripauth.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{tripauth.ErrTokenExpiredOrInvalid, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		h := Guard(&fakeAuthenticator{err: tt.err}, tripauth.AudienceAdmin)(okHandler(t))
		assert.Equal(t, tt.want, serve(h, "Bearer x").Code, tt.err.Error())
	}

	assert.Equal(t, http.StatusUnauthorized, serve(Guard(nil, tripauth.AudienceAdmin)(okHandler(t)), "Bearer x").Code)
}

func TestRequireRole(t *testing.T) {
	auth := &fakeAuthenticator{identities: map[string]*tripauth.Identity{
		"root": {PrincipalID: "a-1", Role: tripauth.RoleSuperAdmin},
		"ops":  {PrincipalID: "a-2", Role: tripauth.RoleAdmin},
	}}
	h := Guard(auth, tripauth.AudienceAdmin)(RequireRole(tripauth.RoleSuperAdmin)(okHandler(t)))

	assert.Equal(t, http.StatusOK, serve(h, "Bearer root").Code)

	rec := serve(h, "Bearer ops")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))

	unguarded := RequireRole(tripauth.RoleAdmin)(okHandler(t))
	assert.Equal(t, http.StatusUnauthorized, serve(unguarded, "").Code)
}
