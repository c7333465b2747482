package ghosty

import (
	"context"
	"encoding/json"
)

// RawEvent is a push event as delivered by a subscription.
type RawEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Transport is the request/response and push primitive the engine runs on.
// Framing, encryption and serialization are the implementation's concern.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error
	Connected() bool
	Call(ctx context.Context, transaction string, params map[string]any) (json.RawMessage, error)
	NewSubscription(token string) SubscriptionHandle
}

// SubscriptionHandle is one push stream bound to a token. A handle is
// opened once; after it ends a new handle must be created.
type SubscriptionHandle interface {
	Open(ctx context.Context) error
	// Next blocks for the next event. It returns io.EOF when the server
	// closed the stream.
	Next(ctx context.Context) (RawEvent, error)
	Close() error
}
