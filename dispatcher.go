package ghosty

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Reconciler re-fetches authoritative state from the service.
type Reconciler interface {
	// ReloadMessages re-fetches the message window of the open chat.
	ReloadMessages(ctx context.Context) error
	// RefreshChats re-fetches the chat list.
	RefreshChats(ctx context.Context) error
}

// EventHook is invoked after an event has been applied, with its kind.
type EventHook func(kind string)

// Dispatcher routes push events to state mutations and reloads. It does
// no I/O of its own beyond the Reconciler.
type Dispatcher struct {
	session   *Session
	store     *Store
	reconcile Reconciler
	onEvent   EventHook
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher. onEvent may be nil.
func NewDispatcher(session *Session, store *Store, reconcile Reconciler, onEvent EventHook, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		session:   session,
		store:     store,
		reconcile: reconcile,
		onEvent:   onEvent,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// HandleRaw parses and handles a raw event.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw RawEvent) error {
	return d.Handle(ctx, ParseEvent(raw))
}

// Handle applies one event.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	var err error
	handled := true

	switch e := ev.(type) {
	case NewMessageEvent:
		// The sender's own client appended the message when the send
		// succeeded; reloading here would only duplicate it.
		if d.isOpen(e.ChatID) && e.SenderUserID != d.session.UserID() {
			err = d.reconcile.ReloadMessages(ctx)
		}
		err = errors.Join(err, d.reconcile.RefreshChats(ctx))

	case MessageChangedEvent:
		if d.isOpen(e.ChatID) {
			err = d.reconcile.ReloadMessages(ctx)
		} else {
			handled = false
		}

	case PresenceEvent:
		if !d.store.SetMemberOnline(e.UserID, e.Online) {
			handled = false
		}

	case ChatChangedEvent:
		err = d.reconcile.RefreshChats(ctx)

	default:
		handled = false
		if u, ok := ev.(UnknownEvent); ok && u.Reason != "" {
			d.log.Debug().Str("event", u.Type).Str("reason", u.Reason).Msg("ignoring malformed event")
		}
	}

	if handled && d.onEvent != nil {
		d.onEvent(ev.Kind())
	}
	return err
}

func (d *Dispatcher) isOpen(chatID int64) bool {
	open, ok := d.store.OpenChatID()
	return ok && open == chatID
}
