// Package notify forwards alerts to external channels (webhook URLs and
// Slack). The Service implements contracts.Broadcaster so the alert agent
// can emit to it alongside the real-time hub.
//
// Delivery is asynchronous: Emit filters and enqueues, channel drivers run
// in their own goroutines with retries, and Close waits for in-flight sends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Notifications ───────────────────────────────────────────

// Notification is what channel drivers deliver.
type Notification struct {
	Event     string        `json:"event"`
	Alert     *models.Alert `json:"alert,omitempty"`
	Data      any           `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ── Service ──────────────────────────────────────────────────

const sendTimeout = 30 * time.Second

var severityRank = map[models.AlertSeverity]int{
	models.SeverityInfo:     0,
	models.SeverityWarning:  1,
	models.SeverityCritical: 2,
}

// Service fans notifications out to every registered channel.
type Service struct {
	mu          sync.RWMutex
	channels    []Channel
	minSeverity models.AlertSeverity

	wg     sync.WaitGroup
	closed bool
}

// NewService creates a service that forwards alerts at or above minSeverity.
func NewService(minSeverity models.AlertSeverity, channels ...Channel) *Service {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = models.SeverityWarning
	}
	s := &Service{minSeverity: minSeverity}
	for _, ch := range channels {
		s.Register(ch)
	}
	return s
}

// FromConfig builds the service with a webhook channel per URL and Slack
// when a token and channel are configured.
func FromConfig(cfg config.NotifyConfig) *Service {
	s := NewService(models.AlertSeverity(cfg.MinSeverity))
	for _, url := range cfg.WebhookURLs {
		if url != "" {
			s.Register(NewWebhook(url, cfg.WebhookSecret))
		}
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		s.Register(NewSlack(cfg.SlackToken, cfg.SlackChannel))
	}
	return s
}

// Register adds a delivery channel.
func (s *Service) Register(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, ch)
	log.Info().Str("channel", ch.Name()).Msg("Registered notification channel")
}

// Channels returns how many channels are registered.
func (s *Service) Channels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

var _ contracts.Broadcaster = (*Service)(nil)

// Emit implements contracts.Broadcaster. Alerts below the severity floor are
// dropped; other events pass through. The call never blocks on delivery.
func (s *Service) Emit(_ context.Context, event, _ string, data any) error {
	n := Notification{Event: event, Data: data, Timestamp: time.Now().UTC()}
	if a, ok := data.(models.Alert); ok {
		if severityRank[a.Severity] < severityRank[s.minSeverity] {
			return nil
		}
		n.Alert = &a
		n.Data = nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("notify: service closed")
	}
	for _, ch := range s.channels {
		s.wg.Add(1)
		go func(ch Channel) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := ch.Send(ctx, n); err != nil {
				log.Warn().Err(err).Str("channel", ch.Name()).Str("event", event).Msg("Notification failed")
				return
			}
			log.Debug().Str("channel", ch.Name()).Str("event", event).Msg("Notification dispatched")
		}(ch)
	}
	return nil
}

// Close stops accepting notifications and waits for in-flight sends.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// ── Fan-out ─────────────────────────────────────────────────

// Multi emits to several broadcasters and joins their errors.
type Multi []contracts.Broadcaster

func (m Multi) Emit(ctx context.Context, event, channel string, data any) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Emit(ctx, event, channel, data); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", b, err))
		}
	}
	return errors.Join(errs...)
}
