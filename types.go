package ghosty

import (
	"encoding/json"
	"errors"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

// Error kinds carried by ResultError.
const (
	KindConnection  = "connection"
	KindAuth        = "auth"
	KindException   = "exception"
	KindApplication = "application"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoToken      = errors.New("no token")
	ErrNoAddress    = errors.New("no server address")
)

// AuthError is returned by the login and registration flows when the
// service rejects the credentials or cannot be reached.
type AuthError struct {
	Kind    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return e.Message
}

// CallError is a failed Result expressed as a Go error.
type CallError struct {
	Kind    string
	Message string
}

func (e *CallError) Error() string {
	return e.Kind + ": " + e.Message
}

// ============================================================================
// Result
// ============================================================================

// ResultError is one (kind, message) pair of a failed Result.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the uniform outcome of every transaction.
// Success is true exactly when Errors is empty.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Errors  []ResultError   `json:"errors,omitempty"`
}

func failed(kind, message string) *Result {
	return &Result{Success: false, Errors: []ResultError{{Kind: kind, Message: message}}}
}

// Decode unmarshals the Data field into the provided value.
// Data of a failed Result is never decoded.
func (r *Result) Decode(v any) error {
	if !r.Success || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// HasData reports whether a successful Result carries a non-null payload.
func (r *Result) HasData() bool {
	return r.Success && len(r.Data) > 0 && string(r.Data) != "null"
}

// ErrorMessage returns the first error's message, or "" on success.
func (r *Result) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Err returns the first error as a *CallError, or nil on success.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	return &CallError{Kind: r.ErrorKind(), Message: r.ErrorMessage()}
}

// ErrorKind returns the first error's kind, or "" on success.
func (r *Result) ErrorKind() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Kind
}

// normalizeResult turns a raw transport reply into a Result. Replies that
// carry a "success" discriminator are enveloped; anything else is bare data.
func normalizeResult(raw json.RawMessage) *Result {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &Result{Success: true, Data: raw}
	}
	successRaw, ok := envelope["success"]
	if !ok {
		return &Result{Success: true, Data: raw}
	}

	var success bool
	_ = json.Unmarshal(successRaw, &success)
	res := &Result{Success: success, Data: envelope["data"]}
	if success {
		return res
	}
	res.Errors = parseResultErrors(envelope["errors"])
	if len(res.Errors) == 0 {
		res.Errors = []ResultError{{Kind: KindApplication, Message: "request failed"}}
	}
	return res
}

// parseResultErrors accepts [kind, message] pairs, {kind|type, message}
// objects, or plain strings.
func parseResultErrors(raw json.RawMessage) []ResultError {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil && single != "" {
			return []ResultError{{Kind: KindApplication, Message: single}}
		}
		return nil
	}

	var out []ResultError
	for _, item := range items {
		var pair []any
		if json.Unmarshal(item, &pair) == nil {
			switch len(pair) {
			case 0:
				continue
			case 1:
				out = append(out, ResultError{Kind: KindApplication, Message: stringify(pair[0])})
			default:
				out = append(out, ResultError{Kind: stringify(pair[0]), Message: stringify(pair[1])})
			}
			continue
		}
		var obj map[string]any
		if json.Unmarshal(item, &obj) == nil {
			kind := strOr(obj, "kind", strOr(obj, "type", KindApplication))
			out = append(out, ResultError{Kind: kind, Message: strOr(obj, "message", "")})
			continue
		}
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, ResultError{Kind: KindApplication, Message: s})
		}
	}
	return out
}

// ============================================================================
// Domain Types
// ============================================================================

// Account is a user of the chat service.
type Account struct {
	AccountID    int64   `json:"account_id"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"display_name"`
	LastOnlineAt *string `json:"last_online_at,omitempty"`
	Online       bool    `json:"in_online"`
	CreatedAt    *string `json:"created_at,omitempty"`
}

// AuthToken is one issued session token, as listed by get_my_tokens.
type AuthToken struct {
	TokenID   int64   `json:"token_id"`
	UserID    int64   `json:"user_id"`
	Token     string  `json:"token"`
	Agent     *string `json:"agent,omitempty"`
	IsCurrent bool    `json:"is_current"`
	IsOnline  bool    `json:"is_online"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// Chat is a conversation with its members.
type Chat struct {
	ChatID    int64     `json:"chat_id"`
	ChatName  string    `json:"chat_name"`
	Owner     *Account  `json:"owner,omitempty"`
	Members   []Account `json:"members"`
	CreatedAt *string   `json:"created_at,omitempty"`
}

// MessageTag annotates a message for a given user.
type MessageTag struct {
	TagID     int64    `json:"tag_id"`
	MessageID int64    `json:"message_id"`
	ForUser   *Account `json:"for_user,omitempty"`
	Type      string   `json:"type"`
	Tag       string   `json:"tag"`
}

// MessageContent is one chunk of a message body.
type MessageContent struct {
	Type         string `json:"type"`
	ResourceName string `json:"resource_name,omitempty"`
	Content      string `json:"content,omitempty"`
	Text         string `json:"text,omitempty"`
}

// Message is a chat message.
type Message struct {
	MessageID  int64            `json:"message_id"`
	ChatID     int64            `json:"chat_id"`
	SenderUser *Account         `json:"sender_user,omitempty"`
	IsRead     bool             `json:"is_read"`
	Tags       []MessageTag     `json:"tags,omitempty"`
	Contents   []MessageContent `json:"contents"`
	CreatedAt  *string          `json:"created_at,omitempty"`
}

// SenderID returns the sender's account id, or 0 when unknown.
func (m *Message) SenderID() int64 {
	if m.SenderUser == nil {
		return 0
	}
	return m.SenderUser.AccountID
}

// Text joins the text chunks of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, c := range m.Contents {
		switch {
		case c.Text != "":
			b.WriteString(c.Text)
		case c.Type == "text":
			b.WriteString(c.Content)
		}
	}
	return b.String()
}

func textContents(text string) []MessageContent {
	return []MessageContent{{Type: "text", ResourceName: "db", Content: text}}
}

// AuthData is the payload of a successful login or registration.
type AuthData struct {
	Token   AuthToken `json:"token"`
	Account Account   `json:"account"`
}
