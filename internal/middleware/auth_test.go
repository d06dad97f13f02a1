package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/auth"
)

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Password: "pw", Secret: "key"})
	require.NoError(t, err)
	return a
}

func protected(t *testing.T, a *auth.Authenticator) http.Handler {
	return AuthMiddleware(a, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	a := newAuthenticator(t)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)
	h := protected(t, a)

	tests := []struct {
		name   string
		path   string
		header string
		ws     string
		want   int
	}{
		{"no header", "/status", "", "", http.StatusUnauthorized},
		{"wrong scheme", "/status", "Basic abc", "", http.StatusUnauthorized},
		{"bad token", "/status", "Bearer nope", "", http.StatusUnauthorized},
		{"valid token", "/status", "Bearer " + token, "", http.StatusNoContent},
		{"public path", "/healthz", "", "", http.StatusNoContent},
		{"websocket query token", "/ws/detections/0?token=" + token, "", "websocket", http.StatusNoContent},
		{"query token without upgrade", "/status?token=" + token, "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.ws != "" {
				req.Header.Set("Upgrade", tt.ws)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthMiddlewareSetsUser(t *testing.T) {
	t.Parallel()

	a := newAuthenticator(t)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t, a).ServeHTTP(rec, req)
	assert.Equal(t, "admin", rec.Header().Get("X-User"))
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	t.Parallel()

	a, err := auth.NewAuthenticator(auth.Config{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	protected(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
