package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the /v1 routes with a single shared token. The compare
// is constant-time so the token cannot be probed byte by byte.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			presented := ""
			if strings.HasPrefix(header, prefix) {
				presented = header[len(prefix):]
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ocrd"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "ocrd API requires a valid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
