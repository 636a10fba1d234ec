package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"fleettrack/internal/api/util"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := util.GetUserClaims(r)
		require.NoError(t, err)
		w.Header().Set("X-User", claims.UserID)
		w.Header().Set("X-Role", claims.Role)
	})
}

func TestAuthenticate(t *testing.T) {
	h := NewAuthMiddleware(secret).Authenticate(claimsEcho(t))
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"sub":  "owner-1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		query  string
		status int
		user   string
	}{
		{name: "valid", header: "Bearer " + valid, status: http.StatusOK, user: "owner-1"},
		{name: "query token", query: "?token=" + valid, status: http.StatusOK, user: "owner-1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x"}), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"sub": "x", "exp": time.Now().Add(-time.Minute).Unix(),
		}), status: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"role": "admin"}), status: http.StatusUnauthorized},
		{name: "none alg", header: "Bearer " + sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "x"}), status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/vehicles"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, rec.Header().Get("X-User"))
		})
	}
}

func TestAuthenticateDefaultsRole(t *testing.T) {
	h := NewAuthMiddleware(secret).Authenticate(claimsEcho(t))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "u"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, util.RoleOperator, rec.Header().Get("X-Role"))
}

func TestAuthDisabled(t *testing.T) {
	h := NewAuthMiddleware("").Authenticate(claimsEcho(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, util.RoleAdmin, rec.Header().Get("X-Role"))
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware(secret)
	h := m.Authenticate(m.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "u", "role": "operator"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := LoggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/health", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/vehicles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
