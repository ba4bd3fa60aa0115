package realtime

import (
	"context"

	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
)

// Channels and events the relay publishes on.
const (
	ChannelMessages = "messages"
	ChannelSystem   = "system"

	EventMessage    = "message"
	EventAckTimeout = "ack_timeout"
	EventDropped    = "delivery_dropped"
)

// Relay mirrors bus traffic to real-time clients until ctx is cancelled.
// Every published message goes out on the messages channel; ack timeouts
// and dropped deliveries go out on the system channel.
func (h *Hub) Relay(ctx context.Context, b *bus.Bus) {
	events := b.Watch()
	defer b.Unwatch(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case bus.EventDelivered:
				h.Emit(ctx, EventMessage, ChannelMessages, ev.Message)
			case bus.EventAckTimeout:
				h.Emit(ctx, EventAckTimeout, ChannelSystem, ev)
			case bus.EventDropped:
				h.Emit(ctx, EventDropped, ChannelSystem, ev)
			}
		}
	}
}
