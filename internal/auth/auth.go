// Package auth authenticates HTTP callers of the Sentinel API.
//
// Two providers ship:
//   - APIKeyProvider: static keys from configuration
//   - ServiceTokenProvider: HMAC-signed tokens for feed injectors and CI
//
// Providers are tried in order by a ProviderChain; the API middleware stores
// the resulting Identity in the request context.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (service name or API key hash).
	Subject string `json:"subject"`

	// DisplayName is a human-readable name, used as the acknowledging user.
	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which provider authenticated this identity.
	Provider string `json:"provider"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Name returns the best human-readable label for the identity.
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Subject
}

// Provider authenticates an HTTP request.
//
// The chain contract:
//   - (*Identity, nil): authenticated, stop the chain
//   - (nil, nil): this provider doesn't handle the request, try the next
//   - (nil, error): authentication was attempted and failed, reject
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// ── Context ─────────────────────────────────────────────────

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the authenticated Identity in the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom retrieves the authenticated Identity from the context.
// Returns nil for anonymous requests.
func IdentityFrom(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey).(*Identity); ok {
		return v
	}
	return nil
}
