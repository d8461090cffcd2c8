// Package middleware contains the HTTP middleware of the controller.
package middleware

import (
	"net/http"
	"strings"

	"flowplane/internal/auth"
)

// RequireInternalAuth ensures the request carries the internal secret as a bearer token.
// An empty secret rejects every request.
func RequireInternalAuth(secret string) func(http.Handler) http.Handler {
	hashed := auth.HashKey(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "Internal endpoints are disabled", http.StatusServiceUnavailable)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" || strings.Contains(token, " ") {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.Matches(token, hashed) {
				http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
