// Event bridge: forwards bus taps to WebSocket clients.
package api

import (
	"context"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/events"
	"github.com/sipeed/nasrelay/pkg/logger"
)

const previewLen = 200

// EventBridge connects the message bus to the WebSocket hub.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

// NewEventBridge creates a bridge. A nil bus makes Run a no-op.
func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run subscribes to the bus taps and starts one forwarding goroutine per
// tap. It returns immediately; forwarders stop with ctx or the bus.
func (eb *EventBridge) Run(ctx context.Context) {
	if eb.bus == nil {
		return
	}
	logger.InfoC("events", "Event bridge started")

	go eb.forward(ctx, eb.bus.SubscribeInboundTap("event-bridge"))
	go eb.forward(ctx, eb.bus.SubscribeOutboundTap("event-bridge"))
	go eb.forward(ctx, eb.bus.SubscribeSystem("event-bridge"))
}

func (eb *EventBridge) forward(ctx context.Context, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			eb.relay(raw)
		}
	}
}

func (eb *EventBridge) relay(raw interface{}) {
	switch v := raw.(type) {
	case bus.InboundMessage:
		eb.hub.Broadcast(events.MessageInbound, events.SourceBus, events.MessageEventData{
			ChatID:  v.ChatID,
			Preview: events.Preview(v.Text, previewLen),
		})
	case bus.OutboundMessage:
		eb.hub.Broadcast(events.MessageOutbound, events.SourceBus, events.MessageEventData{
			ChatID:  v.ChatID,
			Preview: events.Preview(v.Text, previewLen),
		})
	case bus.SystemEvent:
		eb.hub.Broadcast(v.Type, v.Source, v.Data)
	}
}
