package ghosty

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
		want Event
	}{
		{
			name: "new message",
			raw:  RawEvent{Type: EventNewMessage, Data: map[string]any{"chat_id": float64(4), "sender_user_id": float64(2), "message_id": float64(30)}},
			want: NewMessageEvent{ChatID: 4, MessageID: 30, SenderUserID: 2},
		},
		{
			name: "new message with nested sender",
			raw: RawEvent{Type: EventNewMessage, Data: map[string]any{
				"chat_id":     json.Number("4"),
				"sender_user": map[string]any{"account_id": float64(9)},
			}},
			want: NewMessageEvent{ChatID: 4, SenderUserID: 9},
		},
		{
			name: "numeric strings are accepted",
			raw:  RawEvent{Type: EventMessageDeleted, Data: map[string]any{"chat_id": "12", "message_id": "5"}},
			want: MessageChangedEvent{Type: EventMessageDeleted, ChatID: 12, MessageID: 5},
		},
		{
			name: "user offline",
			raw:  RawEvent{Type: EventUserOffline, Data: map[string]any{"user_id": int64(3)}},
			want: PresenceEvent{UserID: 3, Online: false},
		},
		{
			name: "member added without chat id",
			raw:  RawEvent{Type: EventMemberAdded},
			want: ChatChangedEvent{Type: EventMemberAdded},
		},
		{
			name: "fractional id is rejected",
			raw:  RawEvent{Type: EventUserOnline, Data: map[string]any{"user_id": 1.5}},
			want: UnknownEvent{Type: EventUserOnline, Reason: "missing user_id"},
		},
		{
			name: "missing sender",
			raw:  RawEvent{Type: EventNewMessage, Data: map[string]any{"chat_id": float64(1)}},
			want: UnknownEvent{Type: EventNewMessage, Reason: "missing sender_user_id"},
		},
		{
			name: "unrecognised type",
			raw:  RawEvent{Type: "typing", Data: map[string]any{"chat_id": float64(1)}},
			want: UnknownEvent{Type: "typing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEvent(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.raw.Type, got.Kind())
		})
	}
}
