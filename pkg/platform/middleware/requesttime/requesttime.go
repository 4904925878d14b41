// Package requesttime provides middleware that pins a single "now" per request,
// so every policy step of one evaluation sees the same instant.
package requesttime

import (
	"net/http"
	"time"

	"authgate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
