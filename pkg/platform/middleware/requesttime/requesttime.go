// Package requesttime pins one "now" per HTTP request so every timestamp a
// request writes (claim, code issuance, expiry checks) agrees.
package requesttime

import (
	"net/http"
	"time"

	"civic/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
