package ghosty

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Push event types.
const (
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventChatCreated    = "chat_created"
	EventMemberAdded    = "member_added"
	EventMemberRemoved  = "member_removed"
)

// Event is a parsed push event. The concrete type is one of
// NewMessageEvent, MessageChangedEvent, PresenceEvent, ChatChangedEvent or
// UnknownEvent.
type Event interface {
	Kind() string
}

// NewMessageEvent announces a message posted to a chat.
type NewMessageEvent struct {
	ChatID       int64
	MessageID    int64
	SenderUserID int64
}

func (NewMessageEvent) Kind() string { return EventNewMessage }

// MessageChangedEvent announces an edited or deleted message.
type MessageChangedEvent struct {
	Type      string
	ChatID    int64
	MessageID int64
}

func (e MessageChangedEvent) Kind() string { return e.Type }

// PresenceEvent announces a user going online or offline.
type PresenceEvent struct {
	UserID int64
	Online bool
}

func (e PresenceEvent) Kind() string {
	if e.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

// ChatChangedEvent announces a chat creation or a membership change.
type ChatChangedEvent struct {
	Type   string
	ChatID int64
}

func (e ChatChangedEvent) Kind() string { return e.Type }

// UnknownEvent is any event the engine does not act on, including known
// types whose payload is missing required fields.
type UnknownEvent struct {
	Type   string
	Reason string
}

func (e UnknownEvent) Kind() string { return e.Type }

// ParseEvent classifies a raw event. Absent or wrong-typed fields yield an
// UnknownEvent rather than an error.
func ParseEvent(raw RawEvent) Event {
	data := raw.Data
	switch raw.Type {
	case EventNewMessage:
		chatID, ok := int64Field(data, "chat_id")
		if !ok {
			return UnknownEvent{Type: raw.Type, Reason: "missing chat_id"}
		}
		sender, ok := int64Field(data, "sender_user_id")
		if !ok {
			sender, ok = nestedAccountID(data, "sender_user")
		}
		if !ok {
			return UnknownEvent{Type: raw.Type, Reason: "missing sender_user_id"}
		}
		msgID, _ := int64Field(data, "message_id")
		return NewMessageEvent{ChatID: chatID, MessageID: msgID, SenderUserID: sender}

	case EventMessageEdited, EventMessageDeleted:
		chatID, ok := int64Field(data, "chat_id")
		if !ok {
			return UnknownEvent{Type: raw.Type, Reason: "missing chat_id"}
		}
		msgID, _ := int64Field(data, "message_id")
		return MessageChangedEvent{Type: raw.Type, ChatID: chatID, MessageID: msgID}

	case EventUserOnline, EventUserOffline:
		userID, ok := int64Field(data, "user_id")
		if !ok {
			return UnknownEvent{Type: raw.Type, Reason: "missing user_id"}
		}
		return PresenceEvent{UserID: userID, Online: raw.Type == EventUserOnline}

	case EventChatCreated, EventMemberAdded, EventMemberRemoved:
		chatID, _ := int64Field(data, "chat_id")
		return ChatChangedEvent{Type: raw.Type, ChatID: chatID}
	}
	return UnknownEvent{Type: raw.Type}
}

// ============================================================================
// Helpers
// ============================================================================

func int64Field(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func nestedAccountID(m map[string]any, key string) (int64, bool) {
	nested, ok := m[key].(map[string]any)
	if !ok {
		return 0, false
	}
	return int64Field(nested, "account_id")
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
