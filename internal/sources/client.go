// Package sources fetches disruption signals from public feeds and
// normalizes them into records: USGS earthquakes, NWS weather alerts and
// GDELT news. Each fetcher implements contracts.SourceFetcher.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// maxBody bounds how much of a feed response is read.
const maxBody = 16 << 20

// StatusError is a non-2xx feed response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL) }

// client is the shared HTTP plumbing for every fetcher.
type client struct {
	http       *http.Client
	userAgent  string
	maxRetries uint64
	// initialInterval is the first retry delay.
	initialInterval time.Duration
}

func newClient(cfg config.SourcesConfig) *client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &client{
		http:            &http.Client{Timeout: timeout},
		userAgent:       cfg.UserAgent,
		maxRetries:      cfg.MaxRetries,
		initialInterval: 500 * time.Millisecond,
	}
}

// getJSON fetches url and decodes the body into out, retrying transport
// errors, 429s and 5xx responses with exponential backoff.
func (c *client) getJSON(ctx context.Context, url string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json, application/geo+json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			serr := &StatusError{URL: url, Status: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("url", url).Int("attempt", attempt).Dur("retry_in", wait).Msg("Feed request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	return nil
}

// Build returns the fetchers named in cfg.Enabled.
func Build(cfg config.SourcesConfig) ([]contracts.SourceFetcher, error) {
	var out []contracts.SourceFetcher
	for _, name := range cfg.Enabled {
		switch name {
		case USGSName:
			out = append(out, NewUSGS(cfg))
		case NWSName:
			out = append(out, NewNWS(cfg))
		case GDELTName:
			out = append(out, NewGDELT(cfg))
		default:
			return nil, fmt.Errorf("sources: unknown source %q", name)
		}
	}
	return out, nil
}
