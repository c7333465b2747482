package ghosty

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// ============================================================================
// Fake transport
// ============================================================================

type recordedCall struct {
	Transaction string
	Params      map[string]any
}

type callHandler func(params map[string]any) (json.RawMessage, error)

type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connectCalls int
	handlers     map[string]callHandler
	calls        []recordedCall

	feed         chan RawEvent
	subscribeErr error
	subs         []*fakeSub
	openSubs     int
	maxOpenSubs  int
	opened       int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]callHandler),
		feed:     make(chan RawEvent, 64),
	}
}

func (t *fakeTransport) Connect(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCalls++
	if len(t.connectErrs) > 0 {
		err := t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Call(ctx context.Context, transaction string, params map[string]any) (json.RawMessage, error) {
	t.mu.Lock()
	t.calls = append(t.calls, recordedCall{Transaction: transaction, Params: params})
	h := t.handlers[transaction]
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return nil, errors.New("transport closed")
	}
	if h == nil {
		return json.RawMessage(`{"success":true,"data":null}`), nil
	}
	return h(params)
}

func (t *fakeTransport) NewSubscription(token string) SubscriptionHandle {
	s := &fakeSub{t: t, token: token, end: make(chan struct{})}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s
}

// handle installs a reply for transaction.
func (t *fakeTransport) handle(transaction string, h callHandler) {
	t.mu.Lock()
	t.handlers[transaction] = h
	t.mu.Unlock()
}

// reply installs a fixed raw reply for transaction.
func (t *fakeTransport) reply(transaction, raw string) {
	t.handle(transaction, func(map[string]any) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	})
}

func (t *fakeTransport) failConnects(errs ...error) {
	t.mu.Lock()
	t.connectErrs = append(t.connectErrs, errs...)
	t.mu.Unlock()
}

// drop simulates a lost connection: the transport goes down and every open
// subscription ends.
func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.endStreams()
}

// endStreams ends every subscription while the connection stays up.
func (t *fakeTransport) endStreams() {
	t.mu.Lock()
	subs := append([]*fakeSub(nil), t.subs...)
	t.mu.Unlock()
	for _, s := range subs {
		s.finish()
	}
}

func (t *fakeTransport) push(typ string, data map[string]any) {
	t.feed <- RawEvent{Type: typ, Data: data}
}

func (t *fakeTransport) callsTo(transaction string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Transaction == transaction {
			n++
		}
	}
	return n
}

func (t *fakeTransport) totalCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *fakeTransport) lastCall() recordedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return recordedCall{}
	}
	return t.calls[len(t.calls)-1]
}

func (t *fakeTransport) lastCallTo(transaction string) recordedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.calls) - 1; i >= 0; i-- {
		if t.calls[i].Transaction == transaction {
			return t.calls[i]
		}
	}
	return recordedCall{}
}

func (t *fakeTransport) subStats() (open, maxOpen, opened int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openSubs, t.maxOpenSubs, t.opened
}

func (t *fakeTransport) connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

type fakeSub struct {
	t     *fakeTransport
	token string
	end   chan struct{}
	once  sync.Once
	open  bool
}

func (s *fakeSub) Open(ctx context.Context) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.subscribeErr != nil {
		return s.t.subscribeErr
	}
	s.open = true
	s.t.opened++
	s.t.openSubs++
	if s.t.openSubs > s.t.maxOpenSubs {
		s.t.maxOpenSubs = s.t.openSubs
	}
	return nil
}

func (s *fakeSub) Next(ctx context.Context) (RawEvent, error) {
	select {
	case <-s.end:
		return RawEvent{}, io.EOF
	default:
	}
	select {
	case ev := <-s.t.feed:
		return ev, nil
	case <-s.end:
		return RawEvent{}, io.EOF
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	}
}

func (s *fakeSub) Close() error {
	s.t.mu.Lock()
	if s.open {
		s.open = false
		s.t.openSubs--
	}
	s.t.mu.Unlock()
	s.finish()
	return nil
}

func (s *fakeSub) finish() {
	s.once.Do(func() { close(s.end) })
}

// ============================================================================
// Helpers
// ============================================================================

func newConnected(t *fakeTransport, token string) (*ConnectionManager, *Session) {
	session := NewSession()
	session.SetToken(token)
	conn := NewConnectionManager(t, session, zerolog.Nop())
	if err := conn.Connect(context.Background(), "127.0.0.1", 4207); err != nil {
		panic(err)
	}
	return conn, session
}
