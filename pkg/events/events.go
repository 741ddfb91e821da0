// Package events defines the typed event contracts published on the bus
// system channel and streamed to gateway WebSocket clients.
package events

import "time"

// Event is the envelope sent to live-feed clients.
type Event struct {
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

const (
	// Message flow
	MessageInbound  = "message.inbound"
	MessageOutbound = "message.outbound"
	MessageDropped  = "message.dropped"

	// Command handling
	CommandHandled = "command.handled"
	CommandDenied  = "command.denied"
	CommandFailed  = "command.failed"

	// State monitor
	MonitorSeeded  = "monitor.seeded"
	MonitorPolled  = "monitor.polled"
	MonitorSkipped = "monitor.skipped"
	MonitorAlert   = "monitor.alert"

	// Lifecycle
	SystemStarted  = "system.started"
	SystemStopping = "system.stopping"
)

// Sources
const (
	SourceCommands = "commands"
	SourceMonitor  = "monitor"
	SourceBus      = "bus"
	SourceApp      = "app"
)

// MessageEventData is the payload for message flow events.
type MessageEventData struct {
	ChatID  int64  `json:"chat_id"`
	Preview string `json:"preview"` // truncated text
}

// CommandEventData is the payload for command events.
type CommandEventData struct {
	TraceID string `json:"trace_id"`
	ChatID  int64  `json:"chat_id"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// MonitorEventData is the payload for monitor events.
type MonitorEventData struct {
	Apps    int    `json:"apps"`
	Alerts  int    `json:"alerts,omitempty"`
	Reason  string `json:"reason,omitempty"` // for skipped polls
	App     string `json:"app,omitempty"`    // for alerts
	Kind    string `json:"kind,omitempty"`   // changed|disappeared
	Message string `json:"message,omitempty"`
}

// SystemEventData is the payload for lifecycle events.
type SystemEventData struct {
	Version   string `json:"version,omitempty"`
	Transport string `json:"transport,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Preview truncates s to n runes for event payloads.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
