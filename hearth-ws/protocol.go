package hearthws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Application event types carried over the realtime channel. Inbound frames
// use the same namespace; the transport's own $connect/$disconnect control
// events are never expressed as application frames.
const (
	// Inbound (client -> server).
	TypeUserTyping    = "user.typing"
	TypeMessageRead   = "message.read"
	TypeChatSubscribe = "chat.subscribe"

	// Outbound (server -> client).
	EventMessageSent  = "message.sent"
	EventMessageRead  = "message.read"
	EventUserTyping   = "user.typing"
	EventUserOnline   = "user.online"
	EventUserOffline  = "user.offline"
	EventCommentAdded = "comment.added"
	EventPostCreated  = "post.created"
	EventError        = "error"
)

// Frame is an inbound client frame: {"type": ..., "data": ...}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame: {"type": ..., "data": ..., "timestamp": ...}.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ParseFrame parses an inbound frame from a JSON string.
func ParseFrame(body string) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal([]byte(body), &frame); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("missing frame type")
	}
	return &frame, nil
}

// NewEvent builds an outbound event with a marshalled payload and the current
// timestamp.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %v payload: %w", eventType, err)
	}
	return NewRawEvent(eventType, data), nil
}

// NewRawEvent builds an outbound event around an already-marshalled payload.
func NewRawEvent(eventType string, payload json.RawMessage) Event {
	return Event{
		Type:      eventType,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Marshal serializes the event for delivery.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshalling %v event: %w", e.Type, err)
	}
	return data, nil
}

// ErrorEvent returns an error frame to send back on a connection that sent a
// frame its owner was not permitted to.
func ErrorEvent(message string) []byte {
	payload, _ := json.Marshal(map[string]string{"message": message})
	data, _ := json.Marshal(NewRawEvent(EventError, payload))
	return data
}

// TypingPayload is the user.typing payload, inbound and outbound. UserID is
// filled in by the server from the connection's identity.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceiptPayload is the message.read payload, inbound and outbound.
type ReadReceiptPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId,omitempty"`
}

// SubscribePayload is the chat.subscribe payload.
type SubscribePayload struct {
	ChatID string `json:"chatId"`
}

// PresencePayload is the user.online / user.offline payload.
type PresencePayload struct {
	UserID   string `json:"userId"`
	LastSeen string `json:"lastSeen,omitempty"`
}
