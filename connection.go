package ghosty

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionState is the transport-level liveness of the engine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
)

// TokenVerifier checks the session token against the service.
type TokenVerifier func(ctx context.Context) bool

// ConnectionManager owns the transport lifecycle. It is the only component
// that connects, disconnects or reconnects.
type ConnectionManager struct {
	transport Transport
	session   *Session
	log       zerolog.Logger

	mu     sync.Mutex
	host   string
	port   int
	verify TokenVerifier
}

// NewConnectionManager wraps a transport.
func NewConnectionManager(transport Transport, session *Session, log zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		transport: transport,
		session:   session,
		log:       log.With().Str("component", "connection").Logger(),
	}
}

// SetVerifier installs the token check used by Reconnect.
func (m *ConnectionManager) SetVerifier(v TokenVerifier) {
	m.mu.Lock()
	m.verify = v
	m.mu.Unlock()
}

// Connect tears down any live connection and dials host:port.
func (m *ConnectionManager) Connect(ctx context.Context, host string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport.Connected() {
		if err := m.transport.Disconnect(); err != nil {
			m.log.Debug().Err(err).Msg("closing previous connection")
		}
	}
	m.host, m.port = host, port
	if err := m.transport.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	m.log.Info().Str("host", host).Int("port", port).Msg("connected")
	return nil
}

// Disconnect closes the transport if it is open.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transport.Connected() {
		return nil
	}
	return m.transport.Disconnect()
}

// Reconnect dials the last known address and, when a token is present,
// verifies it. Failures are reported as false, never as an error.
func (m *ConnectionManager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	host, port, verify := m.host, m.port, m.verify
	m.mu.Unlock()

	if host == "" {
		m.log.Debug().Err(ErrNoAddress).Msg("reconnect skipped")
		return false
	}
	if err := m.Connect(ctx, host, port); err != nil {
		m.log.Warn().Err(err).Msg("reconnect failed")
		return false
	}
	if !m.session.HasToken() || verify == nil {
		return true
	}
	if !verify(ctx) {
		m.log.Warn().Msg("reconnected but token was not accepted")
		return false
	}
	return true
}

// Connected reports transport liveness only; it says nothing about the
// validity of the token.
func (m *ConnectionManager) Connected() bool {
	return m.transport.Connected()
}

// State returns the current ConnectionState.
func (m *ConnectionManager) State() ConnectionState {
	if m.Connected() {
		return StateConnected
	}
	return StateDisconnected
}

// Address returns the last host and port passed to Connect.
func (m *ConnectionManager) Address() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host, m.port
}

// NewSubscription creates a push subscription on the current transport.
func (m *ConnectionManager) NewSubscription(token string) SubscriptionHandle {
	return m.transport.NewSubscription(token)
}

// call borrows the transport for one transaction.
func (m *ConnectionManager) call(ctx context.Context, transaction string, params map[string]any) (json.RawMessage, error) {
	return m.transport.Call(ctx, transaction, params)
}
