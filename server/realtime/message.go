// Package realtime implements the messaging fabric between the managers and
// the transport layer: presence tracking, per-user delivery with offline
// spooling, outbound micro-batching and typed notification fan-out.
//
// The transport itself (WebSocket framing, HTTP upgrade) is a collaborator;
// it participates by registering DeliverFuncs on the Router.
package realtime

import "time"

// Event types carried on the fabric.
const (
	EventConnected           = "connected"
	EventRegistered          = "registered"
	EventNewMessage          = "new_message"
	EventMessageRead         = "message_read"
	EventTyping              = "typing"
	EventPresenceChange      = "presence_change"
	EventStatusChanged       = "status_changed"
	EventSessionCreated      = "session_created"
	EventSessionUpdate       = "session_update"
	EventNotification        = "notification"
	EventProactiveExpression = "proactive_expression"
	EventOfflineSummary      = "offline_notifications_summary"
	EventError               = "error"
	EventBatch               = "batch"
)

// Message is one outbound event before batching. Debug is stripped and long
// Content truncated when the optimizer flushes.
type Message struct {
	Type             string         `json:"type"`
	SessionID        string         `json:"session_id,omitempty"`
	SenderID         string         `json:"sender_id,omitempty"`
	Content          string         `json:"content,omitempty"`
	ContentTruncated bool           `json:"content_truncated,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	Debug            map[string]any `json:"debug,omitempty"`
	Timestamp        int64          `json:"timestamp,omitempty"`
}

// bypassesBatching reports whether this message type demands an immediate
// flush instead of waiting in the queue.
func (m *Message) bypassesBatching() bool {
	switch m.Type {
	case EventTyping, EventPresenceChange, EventError:
		return true
	}
	return false
}

// Clone returns a shallow copy so the optimizer can rewrite fields without
// touching the producer's message.
func (m *Message) Clone() *Message {
	out := *m
	return &out
}

// Envelope is the unit handed to a transport connection: a batch produced by
// the optimizer, or a single event wrapped on the spot.
type Envelope struct {
	Type      string     `json:"type"`
	Messages  []*Message `json:"messages,omitempty"`
	Count     int        `json:"count,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// WrapSingle wraps one message in a single-event envelope.
func WrapSingle(m *Message, now time.Time) *Envelope {
	if m.Timestamp == 0 {
		m.Timestamp = now.UnixMilli()
	}
	return &Envelope{
		Type:      m.Type,
		Messages:  []*Message{m},
		Count:     1,
		Timestamp: now.UnixMilli(),
	}
}
