package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/events"
	"github.com/sipeed/nasrelay/pkg/logger"
	"github.com/sipeed/nasrelay/pkg/metrics"
)

const (
	AccessDeniedText = "Access Denied."
	ErrorPrefix      = "TrueNAS error: "
)

// EventPublisher receives observability events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishSystem(event bus.SystemEvent)
}

// Dispatcher handles inbound envelopes one at a time per worker. It holds no
// per-envelope state, so any number of workers may share it.
type Dispatcher struct {
	api         Apps
	pub         bus.Publisher
	events      EventPublisher
	adminChatID int64
}

// NewDispatcher creates a dispatcher that only obeys adminChatID.
func NewDispatcher(api Apps, pub bus.Publisher, adminChatID int64) *Dispatcher {
	return &Dispatcher{api: api, pub: pub, adminChatID: adminChatID}
}

// SetEventPublisher enables command events on the bus system channel.
func (d *Dispatcher) SetEventPublisher(ep EventPublisher) {
	d.events = ep
}

// Handle processes one envelope. Envelopes without a chat id or text are
// dropped; every other envelope yields exactly one reply. The returned error
// is only ever a publish failure: API errors become reply text.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) error {
	if msg.ChatID == 0 || msg.Text == "" {
		logger.DebugCF("commands", "Ignoring update without a usable text message", map[string]interface{}{
			"update_id": msg.UpdateID,
			"chat_id":   msg.ChatID,
		})
		metrics.MessagesDropped.Inc()
		d.emit(events.MessageDropped, events.MessageEventData{ChatID: msg.ChatID})
		return nil
	}

	traceID := uuid.NewString()

	if msg.ChatID != d.adminChatID {
		logger.WarnCF("commands", "Unauthorized access attempt", map[string]interface{}{
			"chat_id":  msg.ChatID,
			"trace_id": traceID,
		})
		metrics.CommandsTotal.WithLabelValues("none", "denied").Inc()
		d.emit(events.CommandDenied, events.CommandEventData{TraceID: traceID, ChatID: msg.ChatID})
		return d.reply(ctx, msg, AccessDeniedText)
	}

	cmd := Parse(strings.TrimSpace(msg.Text))
	label := metricLabel(cmd)
	logger.InfoCF("commands", "Received command", map[string]interface{}{
		"command":  cmd.Name(),
		"chat_id":  msg.ChatID,
		"trace_id": traceID,
	})

	reply, err := cmd.Execute(ctx, d.api)
	if err != nil {
		logger.ErrorCF("commands", "TrueNAS API error while processing command", map[string]interface{}{
			"command":  cmd.Name(),
			"trace_id": traceID,
			"error":    err,
		})
		metrics.CommandsTotal.WithLabelValues(label, "error").Inc()
		d.emit(events.CommandFailed, events.CommandEventData{
			TraceID: traceID, ChatID: msg.ChatID, Command: cmd.Name(), Error: err.Error(),
		})
		return d.reply(ctx, msg, ErrorPrefix+err.Error())
	}

	metrics.CommandsTotal.WithLabelValues(label, outcome(cmd)).Inc()
	d.emit(events.CommandHandled, events.CommandEventData{TraceID: traceID, ChatID: msg.ChatID, Command: cmd.Name()})
	return d.reply(ctx, msg, reply)
}

// Run starts workers goroutines draining in until ctx is done or the bus
// closes. Publish failures are logged and do not stop the worker.
func (d *Dispatcher) Run(ctx context.Context, in bus.Consumer, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	logger.InfoCF("commands", "Dispatcher started", map[string]interface{}{
		"workers": workers,
	})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				msg, ok := in.ConsumeInbound(gctx)
				if !ok {
					return nil
				}
				if err := d.Handle(gctx, msg); err != nil {
					if errors.Is(err, bus.ErrClosed) {
						return nil
					}
					logger.ErrorCF("commands", "Failed to publish reply", map[string]interface{}{
						"worker":  worker,
						"chat_id": msg.ChatID,
						"error":   err,
					})
				}
			}
		})
	}

	err := g.Wait()
	logger.InfoC("commands", "Dispatcher stopped")
	return err
}

func (d *Dispatcher) reply(ctx context.Context, msg bus.InboundMessage, text string) error {
	out := bus.OutboundMessage{Credential: msg.Credential, ChatID: msg.ChatID, Text: text}
	if err := d.pub.PublishOutbound(ctx, out); err != nil {
		return fmt.Errorf("publish reply to chat %d: %w", msg.ChatID, err)
	}
	return nil
}

func (d *Dispatcher) emit(eventType string, data interface{}) {
	if d.events == nil {
		return
	}
	d.events.PublishSystem(bus.SystemEvent{Type: eventType, Source: events.SourceCommands, Data: data})
}

// metricLabel keeps arbitrary user input out of label values.
func metricLabel(cmd Command) string {
	if _, ok := cmd.(Help); ok {
		return "unknown"
	}
	return cmd.Name()
}

func outcome(cmd Command) string {
	switch cmd.(type) {
	case Usage:
		return "usage"
	case Help:
		return "help"
	default:
		return "ok"
	}
}
