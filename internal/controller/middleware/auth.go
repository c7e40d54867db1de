// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAuth returns middleware that rejects any request whose Authorization
// header does not carry the configured bearer token. Fastlane has no tenant
// model: every caller authenticates against the same system token, compared
// in constant time to avoid a timing side channel on the comparison.
func RequireAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
