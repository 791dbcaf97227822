package mw

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/problem"
)

func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				problem.Write(w, problem.New(problem.TypeServiceUnavailable, http.StatusInternalServerError,
					"Internal Server Error", "an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
