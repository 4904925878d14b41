package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	request "authgate/pkg/platform/middleware/request"
)

// RoleClaim is the JWT claim that must equal RoleAdmin for admin routes.
const (
	RoleClaim = "role"
	RoleAdmin = "admin"
)

// RequireAdmin accepts only HS256 bearer tokens signed with signingKey that carry
// role=admin and an expiry. Everything else gets a 401 without detail.
func RequireAdmin(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject, ok := verify(r.Header.Get("Authorization"), signingKey)
			if !ok {
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}
			logger.InfoContext(ctx, "admin request",
				"request_id", request.GetRequestID(ctx),
				"actor", subject,
				"method", r.Method,
			)
			next.ServeHTTP(w, r)
		})
	}
}

func verify(header string, signingKey []byte) (string, bool) {
	if len(signingKey) == 0 {
		return "", false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return "", false
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	if role, _ := claims[RoleClaim].(string); role != RoleAdmin {
		return "", false
	}
	subject, _ := claims.GetSubject()
	return subject, true
}
