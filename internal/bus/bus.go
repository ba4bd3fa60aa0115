// Package bus implements the in-process message bus the agents coordinate
// over.
//
// Routing:
//
//	Publish(msg)
//	    ├─► history ring buffer (bounded, oldest evicted)
//	    ├─► pending-ack table (timer per RequiresAck message)
//	    ├─► inbox of msg.To            (addressed)
//	    │   or every inbox subscribed to msg.Type / "all" (broadcast)
//	    └─► watchers: EventDelivered   (always)
//
// Inboxes are bounded channels. A full inbox blocks the publisher for at most
// DeliveryTimeout, after which the message is dropped for that recipient and
// an EventDropped is raised. The bus never retries or redelivers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("bus: closed")
	// ErrNoPayload is returned when a message has no payload.
	ErrNoPayload = errors.New("bus: message has no payload")
	// ErrTypeMismatch is returned when an explicit Type disagrees with the payload.
	ErrTypeMismatch = errors.New("bus: message type does not match payload")
	// ErrNoSender is returned when a message has no sender.
	ErrNoSender = errors.New("bus: message has no sender")
)

// ── Options ─────────────────────────────────────────────────

// Options tunes a Bus. Zero values fall back to the defaults.
type Options struct {
	HistorySize     int
	InboxSize       int
	AckTimeout      time.Duration
	DeliveryTimeout time.Duration
}

const (
	DefaultHistorySize     = 1000
	DefaultInboxSize       = 256
	DefaultAckTimeout      = 30 * time.Second
	DefaultDeliveryTimeout = 250 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return o
}

// ── Events ──────────────────────────────────────────────────

// EventKind describes what a watcher is being told about.
type EventKind string

const (
	EventDelivered  EventKind = "delivered"
	EventAckTimeout EventKind = "ack_timeout"
	EventDropped    EventKind = "dropped"
)

// Event is raised to passive observers.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Message    models.Message `json:"message"`
	Recipients []string       `json:"recipients,omitempty"`
	At         time.Time      `json:"at"`
}

// Stats are cumulative bus counters.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	AckTimeouts int64 `json:"ack_timeouts"`
	PendingAcks int   `json:"pending_acks"`
	Subscribers int   `json:"subscribers"`
	HistorySize int   `json:"history_size"`
}

// ── Bus ─────────────────────────────────────────────────────

type pendingAck struct {
	msg   models.Message
	timer *time.Timer
}

// Bus is the central publish/subscribe broker.
type Bus struct {
	opts Options

	subsMu sync.RWMutex
	subs   map[string]*subscription // key: agent id

	history *history

	ackMu   sync.Mutex
	pending map[string]*pendingAck // key: message id

	watchMu  sync.RWMutex
	watchers map[chan Event]struct{}

	closed atomic.Bool

	published   atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	ackTimeouts atomic.Int64
}

// New creates a bus with the given options.
func New(opts Options) *Bus {
	opts = opts.withDefaults()
	return &Bus{
		opts:     opts,
		subs:     make(map[string]*subscription),
		history:  newHistory(opts.HistorySize),
		pending:  make(map[string]*pendingAck),
		watchers: make(map[chan Event]struct{}),
	}
}

// AckTimeout returns the configured acknowledgment window.
func (b *Bus) AckTimeout() time.Duration { return b.opts.AckTimeout }

// ── Subscriptions ───────────────────────────────────────────

// Subscribe registers the types agentID wants to receive by broadcast and
// returns its inbox. Calling it again adds types to the existing set and
// returns the same inbox. Addressed messages reach the inbox regardless of
// the type set.
func (b *Bus) Subscribe(agentID string, types ...models.MessageType) <-chan models.Message {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	sub, ok := b.subs[agentID]
	if !ok {
		sub = newSubscription(agentID, b.opts.InboxSize)
		b.subs[agentID] = sub
	}
	sub.add(types)

	log.Debug().
		Str("agent", agentID).
		Interface("types", types).
		Msg("Bus subscription updated")
	return sub.ch
}

// Unsubscribe removes the given types from agentID's set. With no types it
// removes the subscription entirely and closes the inbox.
func (b *Bus) Unsubscribe(agentID string, types ...models.MessageType) {
	b.subsMu.Lock()
	sub, ok := b.subs[agentID]
	if !ok {
		b.subsMu.Unlock()
		return
	}
	if len(types) > 0 {
		sub.remove(types)
		b.subsMu.Unlock()
		return
	}
	delete(b.subs, agentID)
	b.subsMu.Unlock()

	sub.close()
	log.Debug().Str("agent", agentID).Msg("Bus subscription removed")
}

// Subscribed reports whether agentID has a live inbox.
func (b *Bus) Subscribed(agentID string) bool {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	_, ok := b.subs[agentID]
	return ok
}

// ── Publish ─────────────────────────────────────────────────

// Publish assigns an id and timestamp, records the message, arms its ack
// timer and routes it. The returned Message is the one delivered.
func (b *Bus) Publish(ctx context.Context, msg models.Message) (models.Message, error) {
	if b.closed.Load() {
		return models.Message{}, ErrClosed
	}
	if msg.Payload == nil {
		return models.Message{}, ErrNoPayload
	}
	kind := msg.Payload.Kind()
	if msg.Type != "" && msg.Type != kind {
		return models.Message{}, fmt.Errorf("%w: type %q, payload %q", ErrTypeMismatch, msg.Type, kind)
	}
	if msg.From == "" {
		return models.Message{}, ErrNoSender
	}

	msg.Type = kind
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	if msg.To == "" {
		msg.To = models.Broadcast
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}

	b.history.append(msg)
	b.published.Add(1)

	if msg.RequiresAck {
		b.armAck(msg)
	}

	recipients := b.route(ctx, msg)

	b.emit(Event{Kind: EventDelivered, Message: msg, Recipients: recipients, At: msg.Timestamp})

	log.Debug().
		Str("msg_id", msg.ID).
		Str("type", string(msg.Type)).
		Str("from", msg.From).
		Str("to", msg.To).
		Int("recipients", len(recipients)).
		Msg("Message published")

	return msg, nil
}

// route delivers msg to its inbox(es) and returns the agents that received it.
func (b *Bus) route(ctx context.Context, msg models.Message) []string {
	b.subsMu.RLock()
	var targets []*subscription
	if msg.IsBroadcast() {
		for _, sub := range b.subs {
			if sub.wants(msg.Type) {
				targets = append(targets, sub)
			}
		}
	} else if sub, ok := b.subs[msg.To]; ok {
		targets = append(targets, sub)
	}
	b.subsMu.RUnlock()

	if !msg.IsBroadcast() && len(targets) == 0 {
		log.Warn().
			Str("msg_id", msg.ID).
			Str("type", string(msg.Type)).
			Str("to", msg.To).
			Msg("No inbox for destination, message recorded only")
	}

	recipients := make([]string, 0, len(targets))
	for _, sub := range targets {
		if sub.deliver(ctx, msg, b.opts.DeliveryTimeout) {
			b.delivered.Add(1)
			recipients = append(recipients, sub.agentID)
			continue
		}
		b.dropped.Add(1)
		log.Warn().
			Str("msg_id", msg.ID).
			Str("type", string(msg.Type)).
			Str("agent", sub.agentID).
			Msg("Inbox full, message dropped")
		b.emit(Event{Kind: EventDropped, Message: msg, Recipients: []string{sub.agentID}, At: time.Now().UTC()})
	}
	return recipients
}

// ── Acknowledgments ─────────────────────────────────────────

func (b *Bus) armAck(msg models.Message) {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()
	id := msg.ID
	b.pending[id] = &pendingAck{
		msg:   msg,
		timer: time.AfterFunc(b.opts.AckTimeout, func() { b.expire(id) }),
	}
}

// expire removes a pending ack whose timer fired. An ack racing the timer
// wins if it takes the lock first, so at most one of the two happens.
func (b *Bus) expire(id string) {
	b.ackMu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.ackMu.Unlock()
	if !ok {
		return
	}

	b.ackTimeouts.Add(1)
	log.Warn().
		Str("msg_id", id).
		Str("type", string(p.msg.Type)).
		Str("to", p.msg.To).
		Dur("timeout", b.opts.AckTimeout).
		Msg("⏰ Acknowledgment timed out")
	b.emit(Event{Kind: EventAckTimeout, Message: p.msg, At: time.Now().UTC()})
}

// Acknowledge cancels the pending timer for messageID. Unknown ids are a no-op.
func (b *Bus) Acknowledge(messageID, agentID string) {
	b.ackMu.Lock()
	p, ok := b.pending[messageID]
	if ok {
		p.timer.Stop()
		delete(b.pending, messageID)
	}
	b.ackMu.Unlock()

	if ok {
		log.Debug().Str("msg_id", messageID).Str("agent", agentID).Msg("Message acknowledged")
	}
}

// PendingAcks returns the ids still awaiting acknowledgment.
func (b *Bus) PendingAcks() []string {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	return ids
}

// ── Watchers ────────────────────────────────────────────────

// Watch returns a channel receiving every bus event. Slow watchers miss
// events rather than stall publishers. Call Unwatch when done.
func (b *Bus) Watch() chan Event {
	ch := make(chan Event, b.opts.InboxSize)
	b.watchMu.Lock()
	b.watchers[ch] = struct{}{}
	b.watchMu.Unlock()
	return ch
}

// Unwatch removes a watcher channel and closes it.
func (b *Bus) Unwatch(ch chan Event) {
	b.watchMu.Lock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
	b.watchMu.Unlock()
}

func (b *Bus) emit(ev Event) {
	b.watchMu.RLock()
	defer b.watchMu.RUnlock()
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("kind", string(ev.Kind)).Str("msg_id", ev.Message.ID).Msg("Watcher too slow, event dropped")
		}
	}
}

// ── Queries ─────────────────────────────────────────────────

// History returns recorded messages matching filter, oldest first.
func (b *Bus) History(filter HistoryFilter) []models.Message {
	return b.history.query(filter)
}

// Conversation returns, in publish order, every message whose correlation id
// is correlationID plus the message whose own id is correlationID.
func (b *Bus) Conversation(correlationID string) []models.Message {
	if correlationID == "" {
		return nil
	}
	return b.history.conversation(correlationID)
}

// Stats returns cumulative counters.
func (b *Bus) Stats() Stats {
	b.ackMu.Lock()
	pending := len(b.pending)
	b.ackMu.Unlock()
	b.subsMu.RLock()
	subs := len(b.subs)
	b.subsMu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		AckTimeouts: b.ackTimeouts.Load(),
		PendingAcks: pending,
		Subscribers: subs,
		HistorySize: b.history.len(),
	}
}

// ── Shutdown ────────────────────────────────────────────────

// Close stops every pending ack timer and closes all inboxes and watchers.
// Publish fails with ErrClosed afterwards.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.ackMu.Lock()
	for id, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, id)
	}
	b.ackMu.Unlock()

	b.subsMu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.subsMu.Unlock()
	for _, sub := range subs {
		sub.close()
	}

	b.watchMu.Lock()
	for ch := range b.watchers {
		delete(b.watchers, ch)
		close(ch)
	}
	b.watchMu.Unlock()

	log.Info().Msg("🛑 Message bus closed")
}
