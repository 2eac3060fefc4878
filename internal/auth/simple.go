package auth

import (
	"crypto/subtle"
	"net/http"
)

const headerAPIKey = "X-API-Key"

// Middleware enforces the static shared-secret check on every route it
// wraps. The key is read once at startup and passed in; an empty key
// disables the check entirely (development mode).
func Middleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(headerAPIKey)
			if got == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				http.Error(w, "invalid API key", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
