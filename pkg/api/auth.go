// Gateway authentication: static bearer token.
//
// Every route except GET /api/health requires one of:
//
//	Authorization: Bearer <api_key>
//	X-API-Key: <api_key>
//	?token=<api_key>   (WebSocket upgrades from browsers)
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sipeed/nasrelay/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking. An empty key
// passes everything through; NewServer only leaves it empty when key
// generation failed.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "Gateway auth DISABLED, no API key available")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			logger.DebugCF("auth", "Rejected unauthenticated request", map[string]interface{}{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="nasrelay"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized: bearer token required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return r.URL.Query().Get("token")
}

// tokenValid compares in constant time.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}
