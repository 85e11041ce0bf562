package bus

import "context"

// InboundMessage represents a message received from a channel (Discord, Telegram).
type InboundMessage struct {
	Channel   string            `json:"channel"` // channel instance name, e.g. "discord"
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`            // platform channel/chat the message was posted in
	GroupID   string            `json:"group_id,omitempty"` // guild / group; empty for DMs
	MessageID string            `json:"message_id"`
	Content   string            `json:"content"`
	Media     []string          `json:"media,omitempty"`    // attachment URLs or channel-specific file references
	TraceID   string            `json:"trace_id,omitempty"` // correlation id for logs and spans
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Outbound actions (Metadata[MetaAction]).
const (
	MetaAction           = "action"
	MetaReplaceMessageID = "replace_message_id"
	MetaTraceID          = "trace_id"

	// ActionProxy reposts Content as the persona and deletes the
	// message named by MetaReplaceMessageID.
	ActionProxy = "proxy"
	// ActionReply posts Content as a plain bot reply.
	ActionReply = "reply"
)

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`    // attachments carried over from the original
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Action returns the outbound action, defaulting to ActionReply.
func (m OutboundMessage) Action() string {
	if a := m.Metadata[MetaAction]; a != "" {
		return a
	}
	return ActionReply
}

// Event represents a broadcast notification between components.
type Event struct {
	Name    string      `json:"name"`              // event name (e.g. "autoproxy.global")
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels and the dispatcher.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
