package mw

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/problem"
)

const AdminKeyHeader = "X-Admin-Key"

func RequireAdminKey(adminKey string, next http.Handler) http.Handler {
	// If no key configured, do not expose admin endpoints at all.
	if adminKey == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(AdminKeyHeader) != adminKey {
			problem.Write(w, problem.Unauthorized("missing or incorrect admin key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
