package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ServiceTokenHeader carries a signed service token.
const ServiceTokenHeader = "X-Service-Token"

// ServiceTokenProvider validates HMAC-signed tokens issued to services that
// inject signals, such as external feed bridges or CI smoke tests.
//
// Token format: base64url(JSON payload) + "." + base64url(HMAC-SHA256)
// Payload: {"sub": "feed-bridge", "exp": 1234567890}
type ServiceTokenProvider struct {
	secret []byte
	now    func() time.Time
}

type serviceTokenPayload struct {
	Subject string `json:"sub"`
	Exp     int64  `json:"exp"` // Unix seconds, 0 = never
}

// NewServiceTokenProvider creates a provider; an empty secret disables it.
func NewServiceTokenProvider(secret string) *ServiceTokenProvider {
	return &ServiceTokenProvider{secret: []byte(secret), now: time.Now}
}

func (p *ServiceTokenProvider) Name() string  { return "service_token" }
func (p *ServiceTokenProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate returns (nil, nil) when no service token is present.
func (p *ServiceTokenProvider) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	token := r.Header.Get(ServiceTokenHeader)
	if token == "" {
		return nil, nil
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid service token: %w", err)
	}

	id := &Identity{
		Subject:     "svc:" + payload.Subject,
		Provider:    "service_token",
		DisplayName: payload.Subject,
	}
	if payload.Exp > 0 {
		id.ExpiresAt = time.Unix(payload.Exp, 0).UTC()
	}
	return id, nil
}

func (p *ServiceTokenProvider) validateToken(token string) (*serviceTokenPayload, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return nil, errors.New("malformed token: expected payload.signature")
	}
	payloadB64, sigB64 := token[:i], token[i+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(sig, sign(p.secret, payloadB64)) {
		return nil, errors.New("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	var payload serviceTokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp > 0 && p.now().Unix() > payload.Exp {
		return nil, errors.New("token expired")
	}
	if payload.Subject == "" {
		return nil, errors.New("missing subject")
	}
	return &payload, nil
}

func sign(secret []byte, payloadB64 string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}

// GenerateToken creates a signed service token. A non-positive ttl yields a
// token that never expires.
func GenerateToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	payload := serviceTokenPayload{Subject: subject}
	if ttl > 0 {
		payload.Exp = time.Now().Add(ttl).Unix()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(sign(secret, payloadB64)), nil
}
