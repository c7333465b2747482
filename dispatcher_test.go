package ghosty

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	reloads   int
	refreshes int
	reloadErr error
}

func (r *countingReconciler) ReloadMessages(context.Context) error {
	r.reloads++
	return r.reloadErr
}

func (r *countingReconciler) RefreshChats(context.Context) error {
	r.refreshes++
	return nil
}

const selfID = int64(1)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Store, *countingReconciler, *[]string) {
	t.Helper()
	session := NewSession()
	session.SetToken("tok")
	session.SetIdentity(Identity{UserID: selfID, Username: "me"})

	store := NewStore()
	store.Open(Chat{ChatID: 10, ChatName: "general", Members: []Account{
		{AccountID: selfID, Username: "me"},
		{AccountID: 2, Username: "bob"},
	}})

	rec := &countingReconciler{}
	var kinds []string
	d := NewDispatcher(session, store, rec, func(kind string) { kinds = append(kinds, kind) }, zerolog.Nop())
	return d, store, rec, &kinds
}

func TestDispatcher_NewMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("from another user in the open chat", func(t *testing.T) {
		d, _, rec, kinds := newTestDispatcher(t)
		err := d.HandleRaw(ctx, RawEvent{Type: EventNewMessage, Data: map[string]any{
			"chat_id": float64(10), "sender_user_id": float64(2), "message_id": float64(99),
		}})
		require.NoError(t, err)
		assert.Equal(t, 1, rec.reloads)
		assert.Equal(t, 1, rec.refreshes)
		assert.Equal(t, []string{EventNewMessage}, *kinds)
	})

	t.Run("own message is not reloaded", func(t *testing.T) {
		d, _, rec, _ := newTestDispatcher(t)
		err := d.HandleRaw(ctx, RawEvent{Type: EventNewMessage, Data: map[string]any{
			"chat_id": float64(10), "sender_user_id": float64(selfID),
		}})
		require.NoError(t, err)
		assert.Zero(t, rec.reloads)
		assert.Equal(t, 1, rec.refreshes)
	})

	t.Run("other chat only refreshes the list", func(t *testing.T) {
		d, _, rec, _ := newTestDispatcher(t)
		require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: EventNewMessage, Data: map[string]any{
			"chat_id": float64(11), "sender_user_id": float64(2),
		}}))
		assert.Zero(t, rec.reloads)
		assert.Equal(t, 1, rec.refreshes)
	})

	t.Run("reload failure still refreshes", func(t *testing.T) {
		d, _, rec, _ := newTestDispatcher(t)
		rec.reloadErr = errors.New("boom")
		err := d.HandleRaw(ctx, RawEvent{Type: EventNewMessage, Data: map[string]any{
			"chat_id": float64(10), "sender_user_id": float64(2),
		}})
		require.ErrorContains(t, err, "boom")
		assert.Equal(t, 1, rec.refreshes)
	})
}

func TestDispatcher_MessageChanged(t *testing.T) {
	ctx := context.Background()
	for _, typ := range []string{EventMessageEdited, EventMessageDeleted} {
		t.Run(typ, func(t *testing.T) {
			d, _, rec, _ := newTestDispatcher(t)
			require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: typ, Data: map[string]any{"chat_id": float64(10)}}))
			require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: typ, Data: map[string]any{"chat_id": float64(12)}}))
			assert.Equal(t, 1, rec.reloads)
			assert.Zero(t, rec.refreshes)
		})
	}
}

func TestDispatcher_Presence(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()

	d, store, rec, kinds := newTestDispatcher(t)
	require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: EventUserOnline, Data: map[string]any{"user_id": float64(2)}}))

	chat, ok := store.OpenChat()
	require.True(t, ok)
	assert.True(t, chat.Members[1].Online)
	assert.Equal(t, []int64{2}, store.OnlineMembers())
	assert.Zero(t, rec.reloads)
	assert.Zero(t, rec.refreshes)
	assert.Zero(t, tr.totalCalls())
	assert.Equal(t, []string{EventUserOnline}, *kinds)

	require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: EventUserOffline, Data: map[string]any{"user_id": float64(2)}}))
	assert.Empty(t, store.OnlineMembers())

	// not a member: nothing changes and no hook fires
	require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: EventUserOnline, Data: map[string]any{"user_id": float64(77)}}))
	assert.Len(t, *kinds, 2)
}

func TestDispatcher_ChatChanged(t *testing.T) {
	ctx := context.Background()
	d, _, rec, _ := newTestDispatcher(t)
	for _, typ := range []string{EventChatCreated, EventMemberAdded, EventMemberRemoved} {
		require.NoError(t, d.HandleRaw(ctx, RawEvent{Type: typ, Data: map[string]any{"chat_id": float64(3)}}))
	}
	assert.Equal(t, 3, rec.refreshes)
	assert.Zero(t, rec.reloads)
}

func TestDispatcher_IgnoresUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	d, _, rec, kinds := newTestDispatcher(t)

	events := []RawEvent{
		{Type: "typing"},
		{Type: EventNewMessage, Data: map[string]any{"chat_id": "ten", "sender_user_id": float64(2)}},
		{Type: EventNewMessage, Data: map[string]any{"chat_id": float64(10)}},
		{Type: EventUserOnline, Data: map[string]any{"user_id": true}},
		{Type: EventMessageEdited},
	}
	for _, ev := range events {
		require.NoError(t, d.HandleRaw(ctx, ev))
	}
	assert.Zero(t, rec.reloads)
	assert.Zero(t, rec.refreshes)
	assert.Empty(t, *kinds)
	assert.NoError(t, d.Handle(ctx, nil))
}
