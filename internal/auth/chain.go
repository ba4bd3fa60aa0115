package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/rs/zerolog/log"
)

// ProviderChain walks registered providers in order until one returns an
// Identity. Providers can be registered at any time.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewProviderChain creates a chain over providers.
func NewProviderChain(providers ...Provider) *ProviderChain {
	c := &ProviderChain{}
	for _, p := range providers {
		c.RegisterProvider(p)
	}
	return c
}

// FromConfig builds the chain with the API key provider followed by the
// service token provider.
func FromConfig(cfg config.AuthConfig) *ProviderChain {
	return NewProviderChain(
		NewAPIKeyProvider(cfg.APIKeys),
		NewServiceTokenProvider(cfg.ServiceSecret),
	)
}

// RegisterProvider adds a provider to the end of the chain.
func (c *ProviderChain) RegisterProvider(provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Enabled reports whether any provider is configured. A chain with no
// enabled provider leaves the API open.
func (c *ProviderChain) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.Enabled() {
			return true
		}
	}
	return false
}

// Authenticate walks the chain. It returns (nil, nil) when no provider
// recognized the request.
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	c.mu.RLock()
	providers := make([]Provider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().
				Str("provider", p.Name()).
				Err(err).
				Msg("Auth provider rejected request")
			return nil, err
		}
		if identity != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("subject", identity.Subject).
				Msg("Request authenticated")
			return identity, nil
		}
	}
	return nil, nil
}

// ListProviders returns the names of all registered providers.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
