package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrInvalidAPIKey is returned for a present but unknown key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyProvider validates keys from the Authorization: Bearer <key> or
// X-API-Key headers, or the api_key query parameter for WebSocket clients.
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAPIKeyProvider creates a provider over keys. Blank keys are ignored.
func NewAPIKeyProvider(keys []string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]bool)}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			p.keys[key] = true
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate returns (nil, nil) when the request carries no key.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		return nil, nil
	}
	if !p.validateKey(apiKey) {
		return nil, ErrInvalidAPIKey
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))
	return &Identity{
		Subject:  "apikey:" + keyHash[:16],
		Provider: "apikey",
	}, nil
}

func (p *APIKeyProvider) validateKey(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ok bool
	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

// AddKey adds a new API key at runtime.
func (p *APIKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
}

// RemoveKey removes an API key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}
