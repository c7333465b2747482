// Package ghosty is the connectivity and event-dispatch engine of the Ghosty
// chat client.
//
// It keeps one authenticated session alive against the chat service,
// multiplexes transactions over it, holds a push subscription for
// real-time events and reconciles local chat state when events arrive or
// the connection recovers.
//
// Example:
//
//	engine := ghosty.NewEngine(ghosty.NewWSTransport(nil),
//		ghosty.WithSettings(settings),
//		ghosty.WithLogger(log),
//	)
//	if err := engine.Login(ctx, "127.0.0.1", 4207, "alice", "secret"); err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	engine.OpenChat(ctx, chatID)
//	engine.SendMessage(ctx, "hello")
package ghosty

import (
	"context"

	"github.com/rs/zerolog"
)

// ============================================================================
// CallClient
// ============================================================================

// publicTransactions run without a token.
var publicTransactions = map[string]bool{
	"login":    true,
	"register": true,
}

// CallClient wraps transport calls with token injection and uniform Result
// normalization. It borrows the connection and never changes its state.
type CallClient struct {
	conn    *ConnectionManager
	session *Session
	log     zerolog.Logger

	Account  *AccountClient
	Users    *UsersClient
	Chats    *ChatsClient
	Messages *MessagesClient
}

// NewCallClient creates a call client over conn, authenticating with the
// token held by session.
func NewCallClient(conn *ConnectionManager, session *Session, log zerolog.Logger) *CallClient {
	c := &CallClient{
		conn:    conn,
		session: session,
		log:     log.With().Str("component", "client").Logger(),
	}
	c.Account = &AccountClient{c: c, agent: defaultAgent}
	c.Users = &UsersClient{c: c}
	c.Chats = &ChatsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	return c
}

// Call runs one transaction. It never returns a Go error: every outcome is
// a Result.
func (c *CallClient) Call(ctx context.Context, transaction string, params map[string]any) *Result {
	if !c.conn.Connected() {
		return failed(KindConnection, ErrNotConnected.Error())
	}

	if !publicTransactions[transaction] {
		token := c.session.Token()
		if token == "" {
			return failed(KindAuth, ErrNoToken.Error())
		}
		withToken := make(map[string]any, len(params)+1)
		for k, v := range params {
			withToken[k] = v
		}
		withToken["token"] = token
		params = withToken
	}

	raw, err := c.conn.call(ctx, transaction, params)
	if err != nil {
		c.log.Warn().Err(err).Str("transaction", transaction).Msg("call failed")
		return failed(KindException, err.Error())
	}
	res := normalizeResult(raw)
	if !res.Success {
		c.log.Debug().
			Str("transaction", transaction).
			Str("kind", res.ErrorKind()).
			Str("error", res.ErrorMessage()).
			Msg("call rejected")
	}
	return res
}
