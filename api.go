package ghosty

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const defaultAgent = "ghosty-cli"

// HashPassword returns the lowercase hex SHA-256 digest sent as password_hash.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// ============================================================================
// Account
// ============================================================================

// AccountClient handles authentication and sessions.
type AccountClient struct {
	c     *CallClient
	agent string
}

// Login authenticates and, on success, stores the issued token in the session.
func (a *AccountClient) Login(ctx context.Context, username, password string) *Result {
	res := a.c.Call(ctx, "login", map[string]any{
		"username":      username,
		"password_hash": HashPassword(password),
		"agent":         a.agent,
	})
	a.extractToken(res)
	return res
}

// Register creates an account and, on success, stores the issued token.
func (a *AccountClient) Register(ctx context.Context, username, displayName, password string) *Result {
	res := a.c.Call(ctx, "register", map[string]any{
		"username":      username,
		"visible_name":  displayName,
		"password_hash": HashPassword(password),
		"agent":         a.agent,
	})
	a.extractToken(res)
	return res
}

func (a *AccountClient) extractToken(res *Result) {
	if !res.HasData() {
		return
	}
	var payload struct {
		Token json.RawMessage `json:"token"`
	}
	if json.Unmarshal(res.Data, &payload) != nil || len(payload.Token) == 0 {
		return
	}
	var token AuthToken
	if json.Unmarshal(payload.Token, &token) == nil && token.Token != "" {
		a.c.session.SetToken(token.Token)
	}
}

// Logout revokes target, or the current token when target is "".
func (a *AccountClient) Logout(ctx context.Context, target string) *Result {
	if target == "" {
		target = a.c.session.Token()
	}
	return a.c.Call(ctx, "logout", map[string]any{"target_token": target})
}

func (a *AccountClient) VerifyToken(ctx context.Context) *Result {
	return a.c.Call(ctx, "verify_token", map[string]any{"target_token": a.c.session.Token()})
}

// MyTokens lists the sessions of the signed-in user.
func (a *AccountClient) MyTokens(ctx context.Context) *Result {
	return a.c.Call(ctx, "get_my_tokens", map[string]any{"current_token": a.c.session.Token()})
}

func (a *AccountClient) UpdateProfile(ctx context.Context, displayName string) *Result {
	return a.c.Call(ctx, "update_profile", map[string]any{"display_name": displayName})
}

// ============================================================================
// Users
// ============================================================================

type UsersClient struct{ c *CallClient }

func (u *UsersClient) Get(ctx context.Context, userID int64) *Result {
	return u.c.Call(ctx, "get_user", map[string]any{"target_user_id": userID})
}

func (u *UsersClient) Search(ctx context.Context, query string, limit int) *Result {
	if limit <= 0 {
		limit = 20
	}
	return u.c.Call(ctx, "search_users", map[string]any{"query": query, "limit": limit})
}

// ============================================================================
// Chats
// ============================================================================

// ChatsClient manages chats and their membership.
type ChatsClient struct{ c *CallClient }

func (ch *ChatsClient) List(ctx context.Context) *Result {
	return ch.c.Call(ctx, "get_my_chats", nil)
}

func (ch *ChatsClient) Create(ctx context.Context, name string, members []string) *Result {
	return ch.c.Call(ctx, "create_chat", map[string]any{"chat_name": name, "members": members})
}

func (ch *ChatsClient) Info(ctx context.Context, chatID int64) *Result {
	return ch.c.Call(ctx, "get_chat_info", map[string]any{"chat_id": chatID})
}

func (ch *ChatsClient) Rename(ctx context.Context, chatID int64, newName string) *Result {
	return ch.c.Call(ctx, "rename_chat", map[string]any{"chat_id": chatID, "new_name": newName})
}

func (ch *ChatsClient) AddMember(ctx context.Context, chatID int64, username string) *Result {
	return ch.c.Call(ctx, "add_member", map[string]any{"chat_id": chatID, "username": username})
}

func (ch *ChatsClient) RemoveMember(ctx context.Context, chatID, userID int64) *Result {
	return ch.c.Call(ctx, "remove_member", map[string]any{"chat_id": chatID, "target_user_id": userID})
}

func (ch *ChatsClient) Leave(ctx context.Context, chatID int64) *Result {
	return ch.c.Call(ctx, "leave_chat", map[string]any{"chat_id": chatID})
}

func (ch *ChatsClient) Delete(ctx context.Context, chatID int64) *Result {
	return ch.c.Call(ctx, "delete_chat", map[string]any{"chat_id": chatID})
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient reads and writes chat messages.
type MessagesClient struct{ c *CallClient }

// List fetches up to limit messages of a chat, older than beforeID when
// beforeID is positive.
func (m *MessagesClient) List(ctx context.Context, chatID int64, limit int, beforeID int64) *Result {
	if limit <= 0 {
		limit = DefaultMessageWindow
	}
	params := map[string]any{"chat_id": chatID, "limit": limit}
	if beforeID > 0 {
		params["before_id"] = beforeID
	}
	return m.c.Call(ctx, "get_messages", params)
}

func (m *MessagesClient) Send(ctx context.Context, chatID int64, text string) *Result {
	return m.c.Call(ctx, "send_message", map[string]any{"chat_id": chatID, "contents": textContents(text)})
}

func (m *MessagesClient) Edit(ctx context.Context, messageID int64, text string) *Result {
	return m.c.Call(ctx, "edit_message", map[string]any{"message_id": messageID, "new_contents": textContents(text)})
}

func (m *MessagesClient) Delete(ctx context.Context, messageID int64) *Result {
	return m.c.Call(ctx, "delete_message", map[string]any{"message_id": messageID})
}
