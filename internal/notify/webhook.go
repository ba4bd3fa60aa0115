package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Webhook posts notifications as JSON with optional HMAC-SHA256 signing.
type Webhook struct {
	url    string
	secret string
	client *http.Client

	// MaxRetries bounds resends after the first attempt.
	MaxRetries uint64
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:             url,
		secret:          secret,
		client:          &http.Client{Timeout: 15 * time.Second},
		MaxRetries:      2,
		InitialInterval: 2 * time.Second,
	}
}

func (w *Webhook) Name() string { return "webhook:" + w.url }

// Send posts n, retrying transport errors and 5xx responses.
func (w *Webhook) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		sig = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, w.MaxRetries), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Sentinel-Webhook/1.0")
		req.Header.Set("X-Sentinel-Event", n.Event)
		if sig != "" {
			req.Header.Set("X-Sentinel-Signature", sig)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.url)
		default:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.url))
		}
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("webhook %s: %w", w.url, err)
	}
	return nil
}
