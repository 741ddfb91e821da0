package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/sipeed/nasrelay/pkg/logger"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus: closed")

const defaultBuffer = 100

// Subscriber is a named tap on a message stream. Multiple subscribers can
// independently consume the same published messages (fan-out).
type Subscriber struct {
	Name string
	ch   chan interface{}
}

// MessageBus connects transports to the dispatcher and monitor in-process.
type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// Fan-out subscribers, every published message is copied to all taps
	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
	systemSubs   []*Subscriber
}

// NewMessageBus creates a bus whose primary channels hold buffer messages.
func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
		done:     make(chan struct{}),
	}
}

// --- Fan-out subscriptions ---

func (mb *MessageBus) subscribe(list *[]*Subscriber, name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	*list = append(*list, sub)
	return sub.ch
}

// SubscribeInboundTap returns a buffered copy of every inbound message.
// Slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan interface{} {
	return mb.subscribe(&mb.inboundSubs, name)
}

// SubscribeOutboundTap returns a buffered copy of every outbound message.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan interface{} {
	return mb.subscribe(&mb.outboundSubs, name)
}

// SubscribeSystem returns a buffered copy of every system event.
func (mb *MessageBus) SubscribeSystem(name string) <-chan interface{} {
	return mb.subscribe(&mb.systemSubs, name)
}

func fanOut(subs []*Subscriber, v interface{}) {
	for _, sub := range subs {
		select {
		case sub.ch <- v:
		default:
		}
	}
}

// PublishSystem publishes a system event to all system subscribers.
func (mb *MessageBus) PublishSystem(event SystemEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	fanOut(mb.systemSubs, event)
}

// --- Primary publish/consume ---

// PublishInbound blocks until msg is queued, ctx ends, or the bus closes.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return ErrClosed
	}
	fanOut(mb.inboundSubs, msg)
	mb.mu.RUnlock()

	select {
	case mb.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	}
}

// PublishOutbound blocks until msg is queued, ctx ends, or the bus closes.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return ErrClosed
	}
	fanOut(mb.outboundSubs, msg)
	mb.mu.RUnlock()

	select {
	case mb.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrClosed
	}
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-mb.done:
		return OutboundMessage{}, false
	}
}

// RunOutbound drains outbound messages into sink until ctx is done or the
// bus closes. Delivery failures are logged; the message is not retried.
func (mb *MessageBus) RunOutbound(ctx context.Context, sink Sink) {
	for {
		msg, ok := mb.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := sink.Deliver(ctx, msg); err != nil {
			logger.ErrorCF("bus", "Outbound delivery failed", map[string]interface{}{
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// DrainOutbound delivers what is still buffered on the outbound channel
// without waiting for new messages. Call it after producers have stopped.
// Messages left when ctx ends are counted as dropped and logged.
func (mb *MessageBus) DrainOutbound(ctx context.Context, sink Sink) (delivered, dropped int) {
	for {
		select {
		case msg := <-mb.outbound:
			if ctx.Err() != nil {
				dropped++
				continue
			}
			if err := sink.Deliver(ctx, msg); err != nil {
				logger.ErrorCF("bus", "Outbound delivery failed during drain", map[string]interface{}{
					"chat_id": msg.ChatID,
					"error":   err.Error(),
				})
				dropped++
				continue
			}
			delivered++
		default:
			if dropped > 0 {
				logger.WarnCF("bus", "Discarded undelivered outbound messages", map[string]interface{}{
					"dropped":   dropped,
					"delivered": delivered,
				})
			}
			return delivered, dropped
		}
	}
}

// Close stops the bus. Pending consumers return false and taps are closed.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, subs := range [][]*Subscriber{mb.inboundSubs, mb.outboundSubs, mb.systemSubs} {
			for _, sub := range subs {
				close(sub.ch)
			}
		}
		mb.mu.Unlock()
		close(mb.done)
	})
}
