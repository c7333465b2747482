package ghosty

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Subscription is one open push stream bound to a token. Events are read
// lazily with Next until the stream ends; Close releases it.
type Subscription struct {
	handle SubscriptionHandle
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenSubscription opens a push stream on conn for token.
func OpenSubscription(ctx context.Context, conn *ConnectionManager, token string, log zerolog.Logger) (*Subscription, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if !conn.Connected() {
		return nil, ErrNotConnected
	}
	handle := conn.NewSubscription(token)
	if err := handle.Open(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("open subscription: %w", err)
	}
	log.Debug().Msg("subscription opened")
	return &Subscription{handle: handle, log: log}, nil
}

// Next blocks until the next event arrives, the stream ends (io.EOF) or ctx
// is cancelled.
func (s *Subscription) Next(ctx context.Context) (RawEvent, error) {
	return s.handle.Next(ctx)
}

// Close releases the stream. Further calls are no-ops.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Debug().Msg("subscription closed")
	return s.handle.Close()
}
