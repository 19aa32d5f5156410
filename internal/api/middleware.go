package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// unauthenticatedPaths are reachable without the API key so probes and
// scrapers work.
var unauthenticatedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware enforces the shared X-API-Key header. When requireAuth is
// false (non-production only; ValidateSecurity forbids it elsewhere) the
// check is skipped.
func authMiddleware(apiKey string, requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireAuth || unauthenticatedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing API key"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				slog.Warn("invalid API key", "remote", r.RemoteAddr, "path", r.URL.Path)
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "invalid API key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware allows exactly the configured origins; no wildcards.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
