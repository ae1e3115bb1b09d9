package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("No Secret Disables Auth", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	})

	t.Run("Missing Token", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("Malformed Header", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})

	t.Run("Valid Bearer Token", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, "sekrit"))
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	})

	t.Run("Token Via Query Param", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		req := httptest.NewRequest("GET", "/api/stream?access_token="+signToken(t, jwt.SigningMethodHS256, "sekrit"), nil)
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, "not-the-secret"))
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("Wrong Algorithm", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		req := httptest.NewRequest("GET", "/api/status", nil)
		// HS384 is signed with the right secret but only HS256 is accepted
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS384, "sekrit"))
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("Expired Token", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}).SignedString([]byte("sekrit"))
		require.NoError(t, err)
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		w := httptest.NewRecorder()
		srv.authMiddleware(okHandler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})
}
