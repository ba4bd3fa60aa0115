package auth_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/auth"
	"github.com/adithya-n05/ICHack26-sub001/internal/config"
)

// ── API keys ────────────────────────────────────────────────

func TestAPIKeyProvider(t *testing.T) {
	p := auth.NewAPIKeyProvider([]string{"k-one", " ", "k-two"})
	if !p.Enabled() {
		t.Fatal("Enabled() = false with keys configured")
	}

	for _, header := range []string{"Authorization", "X-API-Key"} {
		r := httptest.NewRequest("GET", "/api/v1/status", nil)
		value := "k-two"
		if header == "Authorization" {
			value = "Bearer k-two"
		}
		r.Header.Set(header, value)
		id, err := p.Authenticate(context.Background(), r)
		if err != nil {
			t.Fatalf("%s: Authenticate() error = %v", header, err)
		}
		if id == nil || !strings.HasPrefix(id.Subject, "apikey:") || id.Provider != "apikey" {
			t.Errorf("%s: identity = %+v", header, id)
		}
	}

	r := httptest.NewRequest("GET", "/ws?api_key=k-one", nil)
	if id, err := p.Authenticate(context.Background(), r); err != nil || id == nil {
		t.Errorf("query key: Authenticate() = %v, %v", id, err)
	}
}

func TestAPIKeyProvider_InvalidAndMissing(t *testing.T) {
	p := auth.NewAPIKeyProvider([]string{"k-one"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "wrong")
	if _, err := p.Authenticate(context.Background(), r); !errors.Is(err, auth.ErrInvalidAPIKey) {
		t.Errorf("bad key error = %v, want ErrInvalidAPIKey", err)
	}

	id, err := p.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	if id != nil || err != nil {
		t.Errorf("no key: Authenticate() = %v, %v, want nil, nil", id, err)
	}
}

func TestAPIKeyProvider_RuntimeKeys(t *testing.T) {
	p := auth.NewAPIKeyProvider(nil)
	if p.Enabled() {
		t.Fatal("Enabled() = true without keys")
	}
	p.AddKey("rotated")
	if !p.Enabled() {
		t.Fatal("Enabled() = false after AddKey")
	}
	p.RemoveKey("rotated")
	if p.Enabled() {
		t.Error("Enabled() = true after RemoveKey")
	}
}

// ── Service tokens ──────────────────────────────────────────

func TestServiceToken_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	token, err := auth.GenerateToken(secret, "feed-bridge", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	r := httptest.NewRequest("POST", "/api/v1/messages", nil)
	r.Header.Set(auth.ServiceTokenHeader, token)
	id, err := auth.NewServiceTokenProvider(string(secret)).Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id.Subject != "svc:feed-bridge" || id.Name() != "feed-bridge" || id.ExpiresAt.IsZero() {
		t.Errorf("identity = %+v", id)
	}
}

func TestServiceToken_Rejects(t *testing.T) {
	secret := []byte("s3cret")
	good, _ := auth.GenerateToken(secret, "feed-bridge", 0)
	forged, _ := auth.GenerateToken([]byte("other"), "feed-bridge", 0)

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"feed-bridge","exp":1}`))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	expired := payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	p := auth.NewServiceTokenProvider(string(secret))
	cases := map[string]string{
		"forged":    forged,
		"tampered":  "x" + good,
		"expired":   expired,
		"malformed": "no-dot",
	}
	for name, token := range cases {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set(auth.ServiceTokenHeader, token)
		if id, err := p.Authenticate(context.Background(), r); err == nil {
			t.Errorf("%s: Authenticate() = %+v, want error", name, id)
		}
	}
}

// ── Chain ───────────────────────────────────────────────────

func TestProviderChain(t *testing.T) {
	chain := auth.FromConfig(config.AuthConfig{APIKeys: []string{"k-one"}, ServiceSecret: "s3cret"})
	if !chain.Enabled() {
		t.Fatal("Enabled() = false")
	}
	if got := chain.ListProviders(); len(got) != 2 || got[0] != "apikey" || got[1] != "service_token" {
		t.Errorf("ListProviders() = %v", got)
	}

	token, _ := auth.GenerateToken([]byte("s3cret"), "ci", 0)
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set(auth.ServiceTokenHeader, token)
	id, err := chain.Authenticate(context.Background(), r)
	if err != nil || id == nil || id.Provider != "service_token" {
		t.Errorf("service token through chain = %+v, %v", id, err)
	}

	// A bad key stops the chain even when a valid token follows.
	r.Header.Set("X-API-Key", "wrong")
	if _, err := chain.Authenticate(context.Background(), r); err == nil {
		t.Error("bad key with valid token: want error")
	}
}

func TestProviderChain_DisabledWithoutConfig(t *testing.T) {
	chain := auth.FromConfig(config.AuthConfig{})
	if chain.Enabled() {
		t.Error("Enabled() = true with no keys or secret")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if auth.IdentityFrom(ctx) != nil {
		t.Fatal("IdentityFrom(empty) != nil")
	}
	if auth.WithIdentity(ctx, nil) != ctx {
		t.Error("WithIdentity(nil) should return ctx unchanged")
	}
	id := &auth.Identity{Subject: "svc:ci"}
	if got := auth.IdentityFrom(auth.WithIdentity(ctx, id)); got != id {
		t.Errorf("IdentityFrom() = %v, want %v", got, id)
	}
	if id.Name() != "svc:ci" {
		t.Errorf("Name() = %q, want subject fallback", id.Name())
	}
}
