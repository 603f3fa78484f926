package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/envbroker/envbroker/internal/api/presenter"
)

// StaticTokenAuth guards admin routes with the broker's static API token,
// presented either as a Bearer token or via the 'apitk' query parameter.
// Comparison is constant-time.
func StaticTokenAuth(apiToken string) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiToken == "" {
				presenter.Error(w, r, "API token not configured", http.StatusBadRequest)
				return
			}

			presented := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if presented == "" {
				presented = r.URL.Query().Get("apitk")
			}
			if presented == "" {
				presenter.Error(w, r, "login required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiToken)) != 1 {
				presenter.Error(w, r, "invalid API token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
