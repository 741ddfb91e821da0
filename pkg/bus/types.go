package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mymmrac/telego"
)

// InboundMessage is the normalized command envelope consumed by the dispatcher.
// A zero ChatID or empty Text means the update carried no usable text message.
type InboundMessage struct {
	Credential string `json:"credential"`
	ChatID     int64  `json:"chat_id"`
	Text       string `json:"text"`
	UpdateID   int    `json:"update_id,omitempty"`
}

// OutboundMessage is a reply or alert addressed to one chat.
type OutboundMessage struct {
	Credential string `json:"credential"`
	ChatID     int64  `json:"chatId"`
	Text       string `json:"text"`
}

// SystemEvent is a typed event flowing through the bus for observability.
type SystemEvent struct {
	Type   string      `json:"type"`   // see package events
	Source string      `json:"source"` // e.g. "monitor", "commands"
	Data   interface{} `json:"data"`
}

// Publisher enqueues outbound messages. Success means the message was
// accepted by the bus; delivery is the transport's concern.
type Publisher interface {
	PublishOutbound(ctx context.Context, msg OutboundMessage) error
}

// Consumer yields inbound messages until ctx is done or the bus closes.
type Consumer interface {
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}

// Sink delivers outbound messages to their final transport.
type Sink interface {
	Deliver(ctx context.Context, msg OutboundMessage) error
}

// envelope is the wire shape produced by the upstream bot gateway.
type envelope struct {
	Credential string         `json:"credential"`
	Update     *telego.Update `json:"update"`
}

// DecodeInbound parses a wire envelope. Missing update, message, chat or text
// is not an error: the returned message simply has a zero ChatID or empty Text.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundMessage{}, fmt.Errorf("decode inbound envelope: %w", err)
	}

	msg := InboundMessage{Credential: env.Credential}
	if env.Update == nil {
		return msg, nil
	}
	msg.UpdateID = env.Update.UpdateID
	if m := env.Update.Message; m != nil {
		msg.ChatID = m.Chat.ID
		msg.Text = m.Text
	}
	return msg, nil
}

// EncodeOutbound renders msg in the outbound wire format.
func EncodeOutbound(msg OutboundMessage) ([]byte, error) {
	return json.Marshal(msg)
}
