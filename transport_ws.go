package ghosty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire frames
// ============================================================================

// wsRequest is a client-to-server frame.
type wsRequest struct {
	ID          string         `json:"id"`
	Transaction string         `json:"transaction"`
	Params      map[string]any `json:"params,omitempty"`
}

// wsFrame is any server-to-client frame: either a reply keyed by ID or a
// push event carrying Type and Data.
type wsFrame struct {
	ID       string          `json:"id,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Type     string          `json:"type,omitempty"`
	Data     map[string]any  `json:"data,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// WSConfig configures the websocket transport.
type WSConfig struct {
	Scheme      string
	Path        string
	CallTimeout time.Duration
	ReadLimit   int64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

func (c *WSConfig) defaults() {
	if c.Scheme == "" {
		c.Scheme = "ws"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 4 << 20
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ============================================================================
// WSTransport
// ============================================================================

// WSTransport multiplexes transactions over one websocket and opens a
// dedicated socket per push subscription.
type WSTransport struct {
	config  WSConfig
	log     zerolog.Logger
	mu      sync.Mutex
	conn    *websocket.Conn
	url     string
	cancel  context.CancelFunc
	pending map[string]chan wsFrame
	pendMu  sync.Mutex
}

// NewWSTransport creates a websocket transport. Pass nil for defaults.
func NewWSTransport(config *WSConfig) *WSTransport {
	cfg := WSConfig{Logger: zerolog.Nop()}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WSTransport{
		config:  cfg,
		log:     cfg.Logger.With().Str("component", "transport").Logger(),
		pending: make(map[string]chan wsFrame),
	}
}

func (t *WSTransport) endpoint(host string, port int) string {
	return fmt.Sprintf("%s://%s%s", t.config.Scheme, net.JoinHostPort(host, strconv.Itoa(port)), t.config.Path)
}

// Connect dials host:port, replacing any live connection.
func (t *WSTransport) Connect(ctx context.Context, host string, port int) error {
	_ = t.Disconnect()

	url := t.endpoint(host, port)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: t.config.HTTPClient})
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(t.config.ReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.url = url
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, conn)
	t.log.Debug().Str("url", url).Msg("connected")
	return nil
}

// Disconnect closes the connection and fails every pending call.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.clearPending()
	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connected reports whether the call socket is open.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Call sends one transaction and waits for the reply with the same id.
func (t *WSTransport) Call(ctx context.Context, transaction string, params map[string]any) (json.RawMessage, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan wsFrame, 1)
	t.pendMu.Lock()
	t.pending[id] = ch
	t.pendMu.Unlock()
	defer t.forget(id)

	data, err := json.Marshal(&wsRequest{ID: id, Transaction: transaction, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", transaction, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", transaction, err)
	}

	timer := time.NewTimer(t.config.CallTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: connection closed", transaction)
		}
		if reply.Error != "" {
			return nil, fmt.Errorf("%s: %s", transaction, reply.Error)
		}
		return reply.Response, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: timeout after %s", transaction, t.config.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewSubscription creates a push subscription handle bound to token on the
// currently connected server.
func (t *WSTransport) NewSubscription(token string) SubscriptionHandle {
	t.mu.Lock()
	url := t.url
	t.mu.Unlock()
	return &wsSubscription{
		url:    url,
		token:  token,
		config: &t.config,
		log:    t.log,
	}
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			if current {
				t.conn = nil
			}
			t.mu.Unlock()
			if current {
				t.log.Warn().Err(err).Msg("connection lost")
				t.clearPending()
			}
			return
		}

		var frame wsFrame
		if json.Unmarshal(data, &frame) != nil || frame.ID == "" {
			continue
		}
		t.pendMu.Lock()
		ch, ok := t.pending[frame.ID]
		if ok {
			delete(t.pending, frame.ID)
		}
		t.pendMu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (t *WSTransport) forget(id string) {
	t.pendMu.Lock()
	delete(t.pending, id)
	t.pendMu.Unlock()
}

func (t *WSTransport) clearPending() {
	t.pendMu.Lock()
	for k, ch := range t.pending {
		close(ch)
		delete(t.pending, k)
	}
	t.pendMu.Unlock()
}

// ============================================================================
// wsSubscription
// ============================================================================

type wsSubscription struct {
	url    string
	token  string
	config *WSConfig
	log    zerolog.Logger
	mu     sync.Mutex
	conn   *websocket.Conn
}

// Open dials a dedicated socket and sends the subscribe transaction.
func (s *wsSubscription) Open(ctx context.Context) error {
	if s.url == "" {
		return ErrNotConnected
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPClient: s.config.HTTPClient})
	if err != nil {
		return fmt.Errorf("subscription dial: %w", err)
	}
	conn.SetReadLimit(s.config.ReadLimit)

	data, err := json.Marshal(&wsRequest{
		ID:          uuid.NewString(),
		Transaction: "subscribe",
		Params:      map[string]any{"token": s.token},
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Next returns the next push event, skipping reply frames. A rejected
// subscribe reply ends the stream with an error.
func (s *wsSubscription) Next(ctx context.Context) (RawEvent, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return RawEvent{}, io.EOF
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return RawEvent{}, io.EOF
			}
			return RawEvent{}, fmt.Errorf("subscription read: %w", err)
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debug().Err(err).Msg("skipping malformed push frame")
			continue
		}
		if frame.ID != "" {
			if frame.Error != "" {
				return RawEvent{}, fmt.Errorf("subscribe rejected: %s", frame.Error)
			}
			if res := normalizeResult(frame.Response); len(frame.Response) > 0 && !res.Success {
				return RawEvent{}, fmt.Errorf("subscribe rejected: %s", res.ErrorMessage())
			}
			continue
		}
		if frame.Type == "" {
			continue
		}
		return RawEvent{Type: frame.Type, Data: frame.Data}, nil
	}
}

// Close closes the subscription socket. It is safe to call more than once.
func (s *wsSubscription) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "unsubscribe")
}
