package ghosty

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Options
// ============================================================================

// EngineConfig holds tunables of the engine.
type EngineConfig struct {
	BackoffInterval   time.Duration
	BackoffJitter     float64
	KeepaliveInterval time.Duration // 0 disables the probe
	MessageWindow     int
	Agent             string
	Foreground        bool // no supervisory loop or keepalive
}

func (c *EngineConfig) defaults() {
	if c.BackoffInterval == 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = DefaultMessageWindow
	}
	if c.Agent == "" {
		c.Agent = defaultAgent
	}
}

type EngineOption func(*Engine)

func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithSettings persists the session through store.
func WithSettings(store SettingsStore) EngineOption {
	return func(e *Engine) { e.settings = store }
}

// WithBackoff sets the pause between recovery attempts and the jitter
// fraction added to it.
func WithBackoff(interval time.Duration, jitter float64) EngineOption {
	return func(e *Engine) {
		e.config.BackoffInterval = interval
		e.config.BackoffJitter = jitter
	}
}

// WithKeepalive enables the token verification probe.
func WithKeepalive(interval time.Duration) EngineOption {
	return func(e *Engine) { e.config.KeepaliveInterval = interval }
}

func WithMessageWindow(n int) EngineOption {
	return func(e *Engine) { e.config.MessageWindow = n }
}

// WithAgent sets the client agent reported on login.
func WithAgent(agent string) EngineOption {
	return func(e *Engine) { e.config.Agent = agent }
}

// ForegroundOnly keeps Login, Register and Restore from starting the
// supervisory loop and keepalive. Suited to one-shot commands that make a
// few calls and exit; no events are received.
func ForegroundOnly() EngineOption {
	return func(e *Engine) { e.config.Foreground = true }
}

// OnReconciled is called after state has been re-fetched following a
// recovered connection.
//
// This hook and OnEvent and OnStateChange run on the supervisory loop
// goroutine. They must not call Logout, Close or Supervisor().Stop
// directly: stopping waits for the loop that is running the hook and
// deadlocks. Hand such calls to another goroutine.
func OnReconciled(fn func()) EngineOption {
	return func(e *Engine) { e.onReconciled = fn }
}

// OnEvent is called with the kind of each dispatched event, on the loop
// goroutine (see OnReconciled).
func OnEvent(fn EventHook) EngineOption {
	return func(e *Engine) { e.onEvent = fn }
}

// OnStateChange is called on every supervisory loop transition, on the loop
// goroutine (see OnReconciled).
func OnStateChange(fn func(LoopState)) EngineOption {
	return func(e *Engine) { e.onState = fn }
}

// ============================================================================
// Engine
// ============================================================================

// Engine ties the session, connection, call client, supervisory loop and
// dispatcher together and exposes the flows a user interface drives.
type Engine struct {
	config   EngineConfig
	log      zerolog.Logger
	settings SettingsStore

	session    *Session
	store      *Store
	conn       *ConnectionManager
	client     *CallClient
	dispatcher *Dispatcher
	supervisor *Supervisor
	keepalive  *Keepalive

	onReconciled func()
	onEvent      EventHook
	onState      func(LoopState)
}

// NewEngine creates an engine over transport.
func NewEngine(transport Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		log:      zerolog.Nop(),
		settings: NewMemorySettings(nil),
		session:  NewSession(),
		store:    NewStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config.defaults()

	e.conn = NewConnectionManager(transport, e.session, e.log)
	e.client = NewCallClient(e.conn, e.session, e.log)
	e.client.Account.agent = e.config.Agent
	e.conn.SetVerifier(e.verifyToken)

	e.dispatcher = NewDispatcher(e.session, e.store, e, e.emitEvent, e.log)
	e.supervisor = NewSupervisor(e.conn, e.session, e.dispatcher, SupervisorConfig{
		BackoffInterval: e.config.BackoffInterval,
		BackoffJitter:   e.config.BackoffJitter,
		Reconcile:       e.reconcile,
		OnStateChange:   e.onState,
		Logger:          e.log,
	})
	if e.config.KeepaliveInterval > 0 {
		e.keepalive = NewKeepalive(e.conn, e.verifyToken, e.config.KeepaliveInterval, e.log)
	}
	return e
}

func (e *Engine) Client() *CallClient { return e.client }
func (e *Engine) Store() *Store { return e.store }
func (e *Engine) Session() *Session { return e.session }
func (e *Engine) Connection() *ConnectionManager { return e.conn }
func (e *Engine) Supervisor() *Supervisor { return e.supervisor }
func (e *Engine) Settings() SettingsStore { return e.settings }
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

func (e *Engine) verifyToken(ctx context.Context) bool {
	res := e.client.Account.VerifyToken(ctx)
	return res.HasData()
}

func (e *Engine) emitEvent(kind string) {
	if e.onEvent != nil {
		e.onEvent(kind)
	}
}

// ── Lifecycle ─────────────────────────────────────────────

// Login connects to host:port and signs in. Unlike other operations it
// returns an error so a multi-step flow can stop at the first failure.
func (e *Engine) Login(ctx context.Context, host string, port int, username, password string) error {
	return e.authenticate(ctx, host, port, func() *Result {
		return e.client.Account.Login(ctx, username, password)
	}, Identity{Username: username, DisplayName: username})
}

// Register connects to host:port, creates an account and signs in.
func (e *Engine) Register(ctx context.Context, host string, port int, username, displayName, password string) error {
	if displayName == "" {
		displayName = username
	}
	return e.authenticate(ctx, host, port, func() *Result {
		return e.client.Account.Register(ctx, username, displayName, password)
	}, Identity{Username: username, DisplayName: displayName})
}

func (e *Engine) authenticate(ctx context.Context, host string, port int, call func() *Result, fallback Identity) error {
	if err := ValidateServer(host, port); err != nil {
		return &AuthError{Kind: KindConnection, Message: err.Error()}
	}
	e.stopBackground()
	// A previous session's token must not satisfy the check below or
	// outlive a failed attempt.
	e.session.Clear()
	if err := e.conn.Connect(ctx, host, port); err != nil {
		return &AuthError{Kind: KindConnection, Message: err.Error()}
	}

	res := call()
	if !res.Success {
		msg := res.ErrorMessage()
		if msg == "" {
			msg = "authentication failed"
		}
		e.session.Clear()
		return &AuthError{Kind: res.ErrorKind(), Message: msg}
	}
	if !e.session.HasToken() {
		return &AuthError{Kind: KindAuth, Message: "service did not issue a token"}
	}

	id := fallback
	var data AuthData
	if err := res.Decode(&data); err == nil {
		if data.Account.AccountID != 0 {
			id.UserID = data.Account.AccountID
		}
		if data.Account.Username != "" {
			id.Username = data.Account.Username
		}
		if data.Account.DisplayName != "" {
			id.DisplayName = data.Account.DisplayName
		}
	}
	e.session.SetIdentity(id)
	e.store.Reset()

	e.persist(func(s *Settings) {
		s.Server = ServerSettings{Host: host, Port: port}
		s.Auth.Token = e.session.Token()
		s.Profile = ProfileSettings{UserID: id.UserID, Username: id.Username, DisplayName: id.DisplayName}
	})

	e.log.Info().Str("username", id.Username).Int64("user_id", id.UserID).Msg("signed in")
	e.startBackground()
	return nil
}

// Restore resumes the session stored in settings. It reports whether a
// session is active afterwards. A token the service no longer accepts is
// cleared so the caller can ask the user to sign in again.
func (e *Engine) Restore(ctx context.Context) bool {
	cfg, err := e.settings.Load()
	if err != nil {
		e.log.Warn().Err(err).Msg("cannot load settings")
		return false
	}
	if cfg.Auth.Token == "" {
		return false
	}

	host, port := cfg.ServerAddress()
	if err := e.conn.Connect(ctx, host, port); err != nil {
		e.log.Warn().Err(err).Msg("session restore failed")
		e.forgetToken()
		return false
	}
	e.session.SetToken(cfg.Auth.Token)
	if !e.verifyToken(ctx) {
		e.log.Warn().Msg("stored token rejected")
		e.forgetToken()
		return false
	}

	e.session.SetIdentity(cfg.Identity())
	e.log.Info().Str("username", cfg.Profile.Username).Msg("session restored")
	e.startBackground()
	return true
}

func (e *Engine) forgetToken() {
	e.session.SetToken("")
	e.persist(func(s *Settings) { s.Auth.Token = "" })
}

// Logout stops the background work, revokes the token and clears the
// session. The loop is stopped before the token is cleared.
func (e *Engine) Logout(ctx context.Context) {
	e.stopBackground()

	if res := e.client.Account.Logout(ctx, ""); !res.Success {
		e.log.Warn().Str("error", res.ErrorMessage()).Msg("logout call failed")
	}
	if err := e.settings.ClearSession(); err != nil {
		e.log.Warn().Err(err).Msg("cannot clear settings")
	}
	e.session.Clear()
	if err := e.conn.Disconnect(); err != nil {
		e.log.Debug().Err(err).Msg("disconnect")
	}
	e.store.Reset()
	e.log.Info().Msg("signed out")
}

// Close stops the background work and disconnects, keeping the session
// stored for the next Restore.
func (e *Engine) Close() error {
	e.stopBackground()
	return e.conn.Disconnect()
}

func (e *Engine) startBackground() {
	if e.config.Foreground {
		return
	}
	e.supervisor.Start(context.Background())
	if e.keepalive != nil {
		e.keepalive.Start(context.Background())
	}
}

func (e *Engine) stopBackground() {
	if e.keepalive != nil {
		e.keepalive.Stop()
	}
	e.supervisor.Stop()
}

func (e *Engine) persist(update func(*Settings)) {
	cfg, err := e.settings.Load()
	if err != nil {
		e.log.Warn().Err(err).Msg("cannot load settings")
		cfg = DefaultSettings()
	}
	update(cfg)
	if err := e.settings.Save(cfg); err != nil {
		e.log.Warn().Err(err).Msg("cannot save settings")
	}
}

// ── Reconciliation ────────────────────────────────────────

// RefreshChats re-fetches the chat list.
func (e *Engine) RefreshChats(ctx context.Context) error {
	res := e.client.Chats.List(ctx)
	if err := res.Err(); err != nil {
		return fmt.Errorf("refresh chats: %w", err)
	}
	var chats []Chat
	if err := res.Decode(&chats); err != nil {
		return fmt.Errorf("decode chats: %w", err)
	}
	e.store.SetChats(chats)
	return nil
}

// ReloadMessages re-fetches the most recent window of the open chat.
func (e *Engine) ReloadMessages(ctx context.Context) error {
	chatID, ok := e.store.OpenChatID()
	if !ok {
		return nil
	}
	_, err := e.loadMessages(ctx, chatID)
	return err
}

func (e *Engine) loadMessages(ctx context.Context, chatID int64) (*Result, error) {
	res := e.client.Messages.List(ctx, chatID, e.config.MessageWindow, 0)
	if err := res.Err(); err != nil {
		return res, fmt.Errorf("reload messages of chat %d: %w", chatID, err)
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return res, fmt.Errorf("decode messages: %w", err)
	}
	e.store.ReplaceMessages(chatID, msgs)
	return res, nil
}

// ReloadOpenChat re-fetches the metadata of the open chat.
func (e *Engine) ReloadOpenChat(ctx context.Context) error {
	chatID, ok := e.store.OpenChatID()
	if !ok {
		return nil
	}
	res := e.client.Chats.Info(ctx, chatID)
	if err := res.Err(); err != nil {
		return fmt.Errorf("reload chat %d: %w", chatID, err)
	}
	var chat Chat
	if err := res.Decode(&chat); err != nil {
		return fmt.Errorf("decode chat: %w", err)
	}
	e.store.ReplaceOpenChat(chat)
	return nil
}

func (e *Engine) reconcile(ctx context.Context) {
	if err := e.RefreshChats(ctx); err != nil {
		e.log.Warn().Err(err).Msg("reconcile")
	}
	if _, ok := e.store.OpenChatID(); ok {
		if err := e.ReloadOpenChat(ctx); err != nil {
			e.log.Warn().Err(err).Msg("reconcile")
		}
		if err := e.ReloadMessages(ctx); err != nil {
			e.log.Warn().Err(err).Msg("reconcile")
		}
	}
	if e.onReconciled != nil {
		e.onReconciled()
	}
}

// ── Foreground actions ────────────────────────────────────

// OpenChat makes chatID the open chat and loads its latest messages.
func (e *Engine) OpenChat(ctx context.Context, chatID int64) *Result {
	chat, ok := e.store.Chat(chatID)
	if !ok {
		res := e.client.Chats.Info(ctx, chatID)
		if !res.Success {
			return res
		}
		if err := res.Decode(&chat); err != nil {
			return failed(KindException, err.Error())
		}
	}
	e.store.Open(chat)
	res, err := e.loadMessages(ctx, chatID)
	if err != nil && res.Success {
		return failed(KindException, err.Error())
	}
	return res
}

// CloseChat clears the open chat.
func (e *Engine) CloseChat() {
	e.store.Close()
}

// SendMessage posts text to the open chat and appends the sent message
// locally.
func (e *Engine) SendMessage(ctx context.Context, text string) *Result {
	chatID, ok := e.store.OpenChatID()
	if !ok {
		return failed(KindApplication, "no chat open")
	}
	res := e.client.Messages.Send(ctx, chatID, text)
	if res.HasData() {
		var msg Message
		if err := res.Decode(&msg); err == nil {
			if msg.ChatID == 0 {
				msg.ChatID = chatID
			}
			e.store.AppendMessage(msg)
		}
	}
	return res
}

func (e *Engine) EditMessage(ctx context.Context, messageID int64, text string) *Result {
	return e.afterSuccess(ctx, e.client.Messages.Edit(ctx, messageID, text), e.ReloadMessages)
}

func (e *Engine) DeleteMessage(ctx context.Context, messageID int64) *Result {
	return e.afterSuccess(ctx, e.client.Messages.Delete(ctx, messageID), e.ReloadMessages)
}

// CreateChat creates a chat; the signed-in user is always a member.
func (e *Engine) CreateChat(ctx context.Context, name string, members []string) *Result {
	if name == "" {
		return failed(KindApplication, "chat name is required")
	}
	if me := e.session.Identity().Username; me != "" && !slices.Contains(members, me) {
		members = append(slices.Clone(members), me)
	}
	return e.afterSuccess(ctx, e.client.Chats.Create(ctx, name, members), e.RefreshChats)
}

func (e *Engine) RenameChat(ctx context.Context, chatID int64, name string) *Result {
	return e.afterSuccess(ctx, e.client.Chats.Rename(ctx, chatID, name), e.refreshChatAndList(chatID))
}

func (e *Engine) AddMember(ctx context.Context, chatID int64, username string) *Result {
	return e.afterSuccess(ctx, e.client.Chats.AddMember(ctx, chatID, username), e.refreshChatAndList(chatID))
}

func (e *Engine) RemoveMember(ctx context.Context, chatID, userID int64) *Result {
	return e.afterSuccess(ctx, e.client.Chats.RemoveMember(ctx, chatID, userID), e.refreshChatAndList(chatID))
}

func (e *Engine) LeaveChat(ctx context.Context, chatID int64) *Result {
	return e.afterSuccess(ctx, e.client.Chats.Leave(ctx, chatID), e.dropChat(chatID))
}

func (e *Engine) DeleteChat(ctx context.Context, chatID int64) *Result {
	return e.afterSuccess(ctx, e.client.Chats.Delete(ctx, chatID), e.dropChat(chatID))
}

// UpdateProfile changes the display name and caches it.
func (e *Engine) UpdateProfile(ctx context.Context, displayName string) *Result {
	res := e.client.Account.UpdateProfile(ctx, displayName)
	if res.Success {
		id := e.session.Identity()
		id.DisplayName = displayName
		e.session.SetIdentity(id)
		e.persist(func(s *Settings) { s.Profile.DisplayName = displayName })
	}
	return res
}

// Sessions lists the tokens issued to the signed-in user.
func (e *Engine) Sessions(ctx context.Context) ([]AuthToken, *Result) {
	res := e.client.Account.MyTokens(ctx)
	var tokens []AuthToken
	if err := res.Decode(&tokens); err != nil {
		return nil, failed(KindException, err.Error())
	}
	return tokens, res
}

// RevokeSession logs out another token of the signed-in user.
func (e *Engine) RevokeSession(ctx context.Context, token string) *Result {
	if token == "" {
		return failed(KindApplication, "token is required")
	}
	return e.client.Account.Logout(ctx, token)
}

func (e *Engine) afterSuccess(ctx context.Context, res *Result, then func(context.Context) error) *Result {
	if !res.Success {
		return res
	}
	if err := then(ctx); err != nil {
		e.log.Warn().Err(err).Msg("refresh after action")
	}
	return res
}

func (e *Engine) refreshChatAndList(chatID int64) func(context.Context) error {
	return func(ctx context.Context) error {
		err := e.RefreshChats(ctx)
		if open, ok := e.store.OpenChatID(); ok && open == chatID {
			if rerr := e.ReloadOpenChat(ctx); rerr != nil && err == nil {
				err = rerr
			}
		}
		return err
	}
}

func (e *Engine) dropChat(chatID int64) func(context.Context) error {
	return func(ctx context.Context) error {
		if open, ok := e.store.OpenChatID(); ok && open == chatID {
			e.store.Close()
		}
		return e.RefreshChats(ctx)
	}
}

// DecodeList decodes a list payload, tolerating a null list.
func DecodeList[T any](res *Result) ([]T, error) {
	var out []T
	if !res.HasData() {
		return out, nil
	}
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out, nil
}
