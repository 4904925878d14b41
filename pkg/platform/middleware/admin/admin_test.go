package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("admin-test-key")

func sign(t *testing.T, key []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func serve(t *testing.T, authHeader string) int {
	t.Helper()
	return serveWith(t, testKey, io.Discard, "/admin/abuse/reset", authHeader)
}

func serveWith(t *testing.T, key []byte, logs io.Writer, path, authHeader string) int {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(logs, nil))
	h := RequireAdmin(key, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAdmin(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("valid admin token passes", func(t *testing.T) {
		token := sign(t, testKey, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": "admin", "exp": exp})
		assert.Equal(t, http.StatusNoContent, serve(t, "Bearer "+token))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(t, ""))
	})

	t.Run("non admin role rejected", func(t *testing.T) {
		token := sign(t, testKey, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "role": "user", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, serve(t, "Bearer "+token))
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		token := sign(t, []byte("other"), jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, serve(t, "Bearer "+token))
	})

	t.Run("missing expiry rejected", func(t *testing.T) {
		token := sign(t, testKey, jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"})
		assert.Equal(t, http.StatusUnauthorized, serve(t, "Bearer "+token))
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := sign(t, testKey, jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Minute).Unix()})
		assert.Equal(t, http.StatusUnauthorized, serve(t, "Bearer "+token))
	})

	t.Run("empty signing key rejects everything", func(t *testing.T) {
		token := sign(t, []byte("any"), jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, serveWith(t, nil, io.Discard, "/admin/abuse/reset", "Bearer "+token))
	})

	t.Run("request path is not logged", func(t *testing.T) {
		var logs strings.Builder
		token := sign(t, testKey, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": "admin", "exp": exp})
		code := serveWith(t, testKey, &logs, "/admin/rate-limit/login/alice@example.com", "Bearer "+token)
		assert.Equal(t, http.StatusNoContent, code)
		assert.Contains(t, logs.String(), "admin request")
		assert.NotContains(t, logs.String(), "alice@example.com")
	})
}
