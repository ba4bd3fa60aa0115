package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/adithya-n05/ICHack26-sub001/internal/auth"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves request identities.
type Authenticator interface {
	Enabled() bool
	Authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error)
}

// Auth authenticates requests with the provider chain and stores the
// resulting Identity in the request context. Bad credentials are always
// rejected. Missing credentials are rejected on writes, and on reads too when
// requireReads is set. A chain with no enabled provider lets everything
// through.
func Auth(chain Authenticator, requireReads bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !chain.Enabled() || isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := chain.Authenticate(r.Context(), r)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
				unauthorized(w, "authentication_failed", err.Error())
				return
			}

			write := r.Method != http.MethodGet && r.Method != http.MethodHead
			if identity == nil && (write || requireReads) {
				unauthorized(w, "authentication_required",
					"Set Authorization: Bearer <key>, X-API-Key, or X-Service-Token header.")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sentinel"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// isPublicPath returns true for paths that skip authentication.
func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}
