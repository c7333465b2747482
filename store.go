package ghosty

import (
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// DefaultMessageWindow is the number of most recent messages kept for the
// open chat.
const DefaultMessageWindow = 50

// Store is the goroutine-safe in-memory chat state: the chat list, the open
// chat with its members, and the message window of the open chat.
// Every method completes its mutation under the lock, so foreground actions
// and the event dispatcher never observe a torn update.
type Store struct {
	mu       sync.RWMutex
	chats    []Chat
	open     *Chat
	messages []Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// ── Chat list ────────────────────────────────────────────

// SetChats replaces the chat list.
func (s *Store) SetChats(chats []Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = slices.Clone(chats)
}

// Chats returns a copy of the chat list.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chats)
}

// Chat looks up a chat in the list by id.
func (s *Store) Chat(chatID int64) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.chats, func(c Chat) bool { return c.ChatID == chatID })
}

// ── Open chat ────────────────────────────────────────────

// Open makes chat the open chat and clears the message window.
func (s *Store) Open(chat Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneChat(chat)
	s.open = &c
	s.messages = nil
}

// Close clears the open chat.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = nil
	s.messages = nil
}

// OpenChatID returns the id of the open chat.
func (s *Store) OpenChatID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open == nil {
		return 0, false
	}
	return s.open.ChatID, true
}

// OpenChat returns a copy of the open chat.
func (s *Store) OpenChat() (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open == nil {
		return Chat{}, false
	}
	return cloneChat(*s.open), true
}

// ReplaceOpenChat swaps in fresh metadata for the open chat. It is a no-op
// if a different chat (or none) is open.
func (s *Store) ReplaceOpenChat(chat Chat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.ChatID != chat.ChatID {
		return false
	}
	c := cloneChat(chat)
	s.open = &c
	return true
}

// IsMember reports whether userID is a member of the open chat.
func (s *Store) IsMember(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open == nil {
		return false
	}
	return lo.ContainsBy(s.open.Members, func(a Account) bool { return a.AccountID == userID })
}

// SetMemberOnline flips the online flag of a member of the open chat.
// It reports whether the member was found.
func (s *Store) SetMemberOnline(userID int64, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return false
	}
	found := false
	for i := range s.open.Members {
		if s.open.Members[i].AccountID == userID {
			s.open.Members[i].Online = online
			found = true
		}
	}
	return found
}

// OnlineMembers returns the ids of open chat members currently online.
func (s *Store) OnlineMembers() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open == nil {
		return nil
	}
	online := lo.Filter(s.open.Members, func(a Account, _ int) bool { return a.Online })
	return lo.Map(online, func(a Account, _ int) int64 { return a.AccountID })
}

// ── Messages ─────────────────────────────────────────────

// ReplaceMessages installs a freshly fetched window for chatID, ordered by
// message id ascending. Windows for a chat that is no longer open are
// dropped. Applying the same window twice yields the same sequence.
func (s *Store) ReplaceMessages(chatID int64, msgs []Message) bool {
	window := sortMessages(lo.UniqBy(msgs, func(m Message) int64 { return m.MessageID }))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.ChatID != chatID {
		return false
	}
	s.messages = window
	return true
}

// AppendMessage adds a message the local user just sent. A message whose id
// is already in the window replaces the existing entry.
func (s *Store) AppendMessage(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.ChatID != msg.ChatID {
		return false
	}
	if i := slices.IndexFunc(s.messages, func(m Message) bool { return m.MessageID == msg.MessageID }); i >= 0 {
		s.messages[i] = msg
		return true
	}
	s.messages = sortMessages(append(s.messages, msg))
	return true
}

// Messages returns a copy of the open chat's message window.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Reset clears all state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = nil
	s.open = nil
	s.messages = nil
}

func sortMessages(msgs []Message) []Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b Message) int { return cmp.Compare(a.MessageID, b.MessageID) })
	return out
}

func cloneChat(c Chat) Chat {
	c.Members = slices.Clone(c.Members)
	return c
}
